package main

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"srs/src/utils"
)

func adminHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/admin/reset", func(ctx *gin.Context) {
			secret := os.Getenv("ADMIN_SECRET")
			if secret != "" {
				provided := ctx.Request.Header.Get("x-secret")
				if subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
					ctx.Status(http.StatusForbidden)
					return
				}
			}
			if err := utils.ResetDemo(); err != nil {
				log.Printf("Error resetting demo data: %s\n", err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
				return
			}
			ctx.Status(http.StatusNoContent)
		})
	return g
}
