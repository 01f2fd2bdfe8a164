package lib

import (
	"github.com/zishang520/socket.io/v2/socket"
)

var socketServer *socket.Server

// NewSocketServer registers the shared socket.io server once main has
// set it up. Publishers tolerate a nil server, connections are optional.
func NewSocketServer(s *socket.Server) {
	socketServer = s
}

func GetSocketServer() *socket.Server {
	return socketServer
}
