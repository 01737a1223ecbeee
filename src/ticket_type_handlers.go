package main

import (
	"log"
	"net/http"

	"tikiti/src/db"
	"tikiti/src/models"
	"tikiti/src/types"
	"tikiti/src/utils"

	"github.com/gin-gonic/gin"
)

func ownsEvent(ctx *gin.Context, eventId uint) bool {
	orgId := ctx.GetUint("org")
	if orgId == 0 {
		return false
	}
	var count int64
	db := db.GetDb()
	db.
		Model(&models.Event{}).
		Where(&models.Event{ID: eventId, OrganizerID: orgId}).
		Count(&count)
	return count > 0
}

func ticketTypeHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/ticket-types", func(ctx *gin.Context) {
			var body types.CreateTicketTypeRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				log.Printf("Error validating request: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if !ownsEvent(ctx, body.EventID) {
				ctx.Status(http.StatusForbidden)
				return
			}
			id, err := utils.CreateNewTicketType(&body)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"id": id})
		}).
		PUT("/ticket-types/:id/publish", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var ticketType models.TicketType
			db := db.GetDb()
			if err := db.
				Where(&models.TicketType{ID: params.ID}).
				First(&ticketType).
				Error; err != nil {
				ctx.Status(http.StatusNotFound)
				return
			}
			if !ownsEvent(ctx, ticketType.EventID) {
				ctx.Status(http.StatusForbidden)
				return
			}
			if err := utils.PublishTicketType(params.ID); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.Status(http.StatusOK)
		}).
		PUT("/ticket-types/:id/close", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var ticketType models.TicketType
			db := db.GetDb()
			if err := db.
				Where(&models.TicketType{ID: params.ID}).
				First(&ticketType).
				Error; err != nil {
				ctx.Status(http.StatusNotFound)
				return
			}
			if !ownsEvent(ctx, ticketType.EventID) {
				ctx.Status(http.StatusForbidden)
				return
			}
			if err := utils.CloseTicketType(params.ID); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.Status(http.StatusOK)
		}).
		GET("/ticket-types/:id/seats", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			free, reserved, err := utils.GetTicketTypeSeats(params.ID)
			if err != nil {
				ctx.Status(http.StatusNotFound)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"free": free, "reserved": reserved})
		})
	return g
}
