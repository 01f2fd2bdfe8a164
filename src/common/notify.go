package common

import (
	"context"
	"log"

	"github.com/zishang520/socket.io/v2/socket"

	"srs/src/lib"
	"srs/src/types"
)

// Fan-out runs strictly after commit and is fire-and-forget: consumers
// treat events as invalidation hints and re-fetch, so a dropped publish
// costs a stale view, never a wrong mutation.

const (
	StockChannel     = "stock"
	StockChangedEv   = "stock-changed"
	UserReservedEv   = "reservations-changed"
	productsCacheKey = "products"
)

// UserChannel names the per-user room/channel a client subscribes to
// for its own reservation updates.
func UserChannel(userID string) string {
	return "user-" + userID
}

// PublishStockChanged broadcasts new availability for the given
// products to every subscriber and drops the cached catalog.
func PublishStockChanged(updates []types.StockUpdate) {
	go func() {
		if rdb := lib.GetRedisClient(); rdb != nil {
			if err := rdb.Del(context.Background(), productsCacheKey).Err(); err != nil {
				log.Printf("Error invalidating catalog cache: %s\n", err.Error())
			}
		}
		if wss := lib.GetSocketServer(); wss != nil {
			if err := wss.Sockets().Emit(StockChangedEv, updates); err != nil {
				log.Printf("Error emitting %s: %s\n", StockChangedEv, err.Error())
			}
		}
		if pc := lib.GetPusherClient(); pc != nil {
			if err := pc.Trigger(StockChannel, StockChangedEv, updates); err != nil {
				log.Printf("Error pushing %s: %s\n", StockChangedEv, err.Error())
			}
		}
	}()
}

// PublishUserReservationsChanged nudges one user's connections to
// re-fetch their reservations.
func PublishUserReservationsChanged(userID string) {
	go func() {
		if wss := lib.GetSocketServer(); wss != nil {
			if err := wss.Sockets().To(socket.Room(UserChannel(userID))).Emit(UserReservedEv, userID); err != nil {
				log.Printf("Error emitting %s for user %s: %s\n", UserReservedEv, userID, err.Error())
			}
		}
		if pc := lib.GetPusherClient(); pc != nil {
			if err := pc.Trigger(UserChannel(userID), UserReservedEv, userID); err != nil {
				log.Printf("Error pushing %s for user %s: %s\n", UserReservedEv, userID, err.Error())
			}
		}
	}()
}
