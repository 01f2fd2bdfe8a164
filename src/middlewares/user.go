package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserMiddleware extracts the caller's opaque identity from the
// X-User-ID header. Authentication belongs to an upstream gateway,
// this service only needs a stable id to scope reservations by.
func UserMiddleware(ctx *gin.Context) {
	userId := strings.TrimSpace(ctx.Request.Header.Get("X-User-ID"))
	if userId == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
		return
	}
	ctx.Set("user_id", userId)
}

func SecureHeaders(ctx *gin.Context) {
	ctx.Header("X-Content-Type-Options", "nosniff")
	ctx.Header("X-Frame-Options", "DENY")
	ctx.Next()
}
