package types

import "github.com/golang-jwt/jwt/v4"

type Claims struct {
	Username     string `json:"username"`
	Role         string `json:"role"`
	Organization uint   `json:"org"`
	UID          string `json:"uid"`
	jwt.RegisteredClaims
}
