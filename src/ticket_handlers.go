package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path"

	"tikiti/src/db"
	"tikiti/src/models"
	"tikiti/src/types"

	"github.com/gin-gonic/gin"
	"github.com/yeqown/go-qrcode"
	"gorm.io/gorm"
)

func ticketHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/tickets", func(ctx *gin.Context) {
			userId := ctx.GetUint("id")
			var tickets []models.Ticket
			db := db.GetDb()
			if err := db.
				Joins("JOIN bookings ON bookings.id = tickets.booking_id").
				Where("bookings.user_id = ?", userId).
				Preload("TicketType").
				Preload("Booking.Event").
				Order("tickets.created_at DESC").
				Find(&tickets).
				Error; err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": tickets})
		}).
		GET("/tickets/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			ticket, err := ownTicket(params.ID, userId)
			if err != nil {
				ctx.Status(http.StatusNotFound)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": ticket})
		}).
		GET("/tickets/:id/qr", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			ticket, err := ownTicket(params.ID, userId)
			if err != nil {
				ctx.Status(http.StatusNotFound)
				return
			}
			// The QR payload is just the redemption code; the gate scanner
			// posts it to the admission endpoint verbatim.
			qrc, err := qrcode.New(ticket.Code)
			if err != nil {
				log.Printf("Could not generate qrcode for ticket [%d]: %s\n", ticket.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			tempDir := os.Getenv("TEMP_DIR")
			if tempDir == "" {
				tempDir = os.TempDir()
			}
			filepath := path.Join(tempDir, fmt.Sprintf("ticket-%d.jpeg", ticket.ID))
			if err = qrc.Save(filepath); err != nil {
				log.Printf("Could not save qrcode to file [%s]: %s\n", filepath, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.File(filepath)
		})
	return g
}

func ownTicket(ticketId uint, userId uint) (*models.Ticket, error) {
	var ticket models.Ticket
	db := db.GetDb()
	if err := db.
		Where(&models.Ticket{ID: ticketId}).
		Preload("Booking").
		Preload("TicketType").
		First(&ticket).
		Error; err != nil {
		return nil, err
	}
	if ticket.Booking == nil || ticket.Booking.UserID != userId {
		return nil, gorm.ErrRecordNotFound
	}
	return &ticket, nil
}
