package config

import (
	"fmt"
	"os"
)

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

// Daraja environment. The sandbox hosts are the defaults; production
// deployments override via env.
func MpesaBaseURL() string {
	if v := os.Getenv("MPESA_BASE_URL"); v != "" {
		return v
	}
	return "https://sandbox.safaricom.co.ke"
}

func MpesaShortcode() string      { return os.Getenv("MPESA_SHORTCODE") }
func MpesaPasskey() string        { return os.Getenv("MPESA_PASSKEY") }
func MpesaConsumerKey() string    { return os.Getenv("MPESA_CONSUMER_KEY") }
func MpesaConsumerSecret() string { return os.Getenv("MPESA_CONSUMER_SECRET") }

func MpesaCallbackURL() string {
	return fmt.Sprintf("%s/api/v1/webhook/mpesa", os.Getenv("API_HOST"))
}
