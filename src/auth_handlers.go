package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"tikiti/src/db"
	"tikiti/src/lib"
	"tikiti/src/lib/mailer"
	"tikiti/src/models"
	"tikiti/src/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

func generateJWT(user *models.User) (string, error) {
	claims := &types.Claims{
		Username:     user.Name,
		Role:         user.Role,
		Organization: user.ActiveOrg,
		UID:          user.UID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtKey)
}

func authRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	guest := apiv1.Group("/auth")
	guest.
		POST("/register", func(ctx *gin.Context) {
			var body types.RegisterUserRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			user := models.User{
				UID:   uuid.NewString(),
				Name:  body.Name,
				Email: body.Email,
			}
			db := db.GetDb()
			if err := db.Transaction(func(tx *gorm.DB) error {
				var count int64
				if err := tx.
					Model(&models.User{}).
					Where(&models.User{Email: body.Email}).
					Count(&count).
					Error; err != nil {
					return err
				}
				if count > 0 {
					return fmt.Errorf("an account with email [%s] already exists", body.Email)
				}
				return tx.Create(&user).Error
			}); err != nil {
				log.Printf("[AuthRegister] error: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := mailer.NewMailerMessage(&lib.SendMailInput{
				From:    os.Getenv("MAIL_FROM"),
				To:      []string{user.Email},
				Subject: "Welcome to Tikiti",
				Body:    fmt.Sprintf("Hi %s, your account is ready. Browse events and book your first ticket.", user.Name),
			}); err != nil {
				log.Printf("[AuthRegister] Error queueing welcome email: %s\n", err.Error())
			}
			ctx.JSON(http.StatusOK, gin.H{"uid": user.UID})
		}).
		POST("/login", func(ctx *gin.Context) {
			var body struct {
				Email string `json:"email" binding:"required"`
			}
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var user models.User
			db := db.GetDb()
			if err := db.
				Where(&models.User{Email: body.Email}).
				First(&user).
				Error; err != nil {
				log.Printf("[AuthLogin] error: %s\n", err.Error())
				ctx.Status(http.StatusUnauthorized)
				return
			}
			token, err := generateJWT(&user)
			if err != nil {
				log.Printf("[AuthLogin] error signing token: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"token": token})
		})
	return guest
}
