package main

import (
	"log"
	"net/http"

	"tikiti/src/db"
	"tikiti/src/models"
	"tikiti/src/types"
	"tikiti/src/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func organizationHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/organizations", func(ctx *gin.Context) {
			var body types.CreateOrganizationRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				log.Printf("Error validating request: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetUint("id")
			orgId, err := utils.CreateNewOrganization(&body, userId)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			db := db.GetDb()
			if err := db.Transaction(func(tx *gorm.DB) error {
				return tx.
					Model(&models.User{}).
					Where("id = ?", userId).
					Updates(map[string]any{"active_org": orgId, "role": "organizer"}).
					Error
			}); err != nil {
				log.Printf("Error updating user active org: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"id": orgId})
		}).
		GET("/organizations/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var org models.Organization
			db := db.GetDb()
			if err := db.
				Where(&models.Organization{ID: params.ID}).
				Preload("Events").
				First(&org).
				Error; err != nil {
				ctx.Status(http.StatusNotFound)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": org})
		}).
		GET("/organizations/:id/bookings", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			orgId := ctx.GetUint("org")
			if params.ID != orgId {
				ctx.Status(http.StatusForbidden)
				return
			}
			bookings, err := utils.GetOrgBookings(orgId)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings})
		})
	return g
}
