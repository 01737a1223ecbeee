package main

import (
	"errors"
	"log"
	"net/http"

	"tikiti/src/db"
	"tikiti/src/middlewares"
	"tikiti/src/models"
	"tikiti/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func paymentHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/payments/:id", func(ctx *gin.Context) {
			var params struct {
				ID string `uri:"id" binding:"required,uuid"`
			}
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			paymentId, _ := uuid.Parse(params.ID)
			userId := ctx.GetUint("id")
			var payment models.Payment
			db := db.GetDb()
			if err := db.
				Where(&models.Payment{ID: paymentId, UserID: userId}).
				Preload("Booking").
				First(&payment).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Status(http.StatusNotFound)
					return
				}
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": payment})
		})

	ops := g.Group("/ops")
	ops.Use(middlewares.RequireRole("admin"))
	ops.
		POST("/payments/:id/confirm", func(ctx *gin.Context) {
			var params struct {
				ID string `uri:"id" binding:"required,uuid"`
			}
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			paymentId, _ := uuid.Parse(params.ID)
			if err := utils.ManualConfirmPayment(paymentId); err != nil {
				log.Printf("[ManualConfirm] error: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.Status(http.StatusOK)
		})
	return g
}
