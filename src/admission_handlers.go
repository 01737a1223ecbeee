package main

import (
	"log"
	"net/http"

	"tikiti/src/db"
	"tikiti/src/middlewares"
	"tikiti/src/models"
	"tikiti/src/types"
	"tikiti/src/utils"

	"github.com/gin-gonic/gin"
)

func admissionHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	gate := g.Group("")
	gate.Use(middlewares.RequireRole("organizer", "staff", "admin"))
	gate.
		POST("/admission", func(ctx *gin.Context) {
			var body types.AdmitTicketRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				log.Printf("Error validating request: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			outcome, err := utils.RedeemTicket(body.Code, userId)
			if err != nil {
				log.Printf("Error on Ticket admission: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			// Rejections are results for the gate UI, not transport errors.
			ctx.JSON(http.StatusOK, outcome)
		}).
		GET("/admissions", func(ctx *gin.Context) {
			orgId := ctx.GetUint("org")
			var tickets []models.Ticket
			db := db.GetDb()
			if err := db.
				Joins("JOIN bookings ON bookings.id = tickets.booking_id").
				Joins("JOIN events ON events.id = bookings.event_id").
				Where("events.organizer_id = ?", orgId).
				Where("tickets.status = ?", types.TICKET_USED).
				Preload("TicketType").
				Order("tickets.used_at DESC").
				Find(&tickets).
				Error; err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": tickets})
		})
	return g
}
