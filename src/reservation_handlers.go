package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"srs/src/common"
	"srs/src/types"
)

func statusForError(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrProductNotFound),
		errors.Is(err, common.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, common.ErrReservationExpired):
		return http.StatusGone
	default:
		// Infrastructure trouble (store, lock wait). Retryable.
		return http.StatusServiceUnavailable
	}
}

func reservationHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/reservations", func(ctx *gin.Context) {
			var body types.CreateReservationRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetString("user_id")
			reservation, err := common.CreateReservation(userId, body.ProductID, body.Quantity)
			if err != nil {
				ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": reservation})
		}).
		GET("/reservations", func(ctx *gin.Context) {
			userId := ctx.GetString("user_id")
			data, err := common.GetOwnReservations(userId)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": data, "count": len(data)})
		}).
		GET("/reservations/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			reservation, err := common.GetReservation(params.ID)
			if err != nil {
				ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
				return
			}
			if reservation.UserID != ctx.GetString("user_id") {
				ctx.JSON(http.StatusNotFound, gin.H{"error": common.ErrReservationNotFound.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": reservation})
		}).
		PUT("/reservations/:id/complete", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			reservation, err := common.CompleteReservation(params.ID)
			if err != nil {
				ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": reservation})
		}).
		PUT("/reservations/:id/cancel", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			reservation, err := common.CancelReservation(params.ID)
			if err != nil {
				ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": reservation})
		})
	return g
}
