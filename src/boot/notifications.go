package boot

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"tikiti/src/db"
	"tikiti/src/lib"
	"tikiti/src/models"
	"tikiti/src/types"
)

// NotificationsConsumer turns domain events into Notification rows and
// outbound email. Delivery failures only log; the Notification row keeps the
// payload around for inspection.
func NotificationsConsumer() {
	topics := []string{
		"BookingConfirmed",
		"PaymentFailed",
		"TicketIssued",
		"emails",
	}
	lib.KafkaConsumer("notifications", topics, handleMessage)
}

func handleMessage(topic string, value []byte) error {
	if topic == "emails" {
		return deliverEmail(value)
	}
	payload := types.JSONB{}
	if err := json.Unmarshal(value, &payload); err != nil {
		return err
	}
	log.Printf("[notifications] %s: %v\n", topic, payload)

	bookingId := uint(0)
	if v, ok := payload["booking_id"].(float64); ok {
		bookingId = uint(v)
	}
	var booking models.Booking
	gdb := db.GetDb()
	if err := gdb.
		Where(&models.Booking{ID: bookingId}).
		Preload("Event").
		Preload("User").
		First(&booking).
		Error; err != nil {
		return fmt.Errorf("booking %d not found for %s event", bookingId, topic)
	}

	notification := models.Notification{
		UserID:  booking.UserID,
		Topic:   topic,
		Payload: payload,
		Status:  "pending",
	}
	if err := gdb.Create(&notification).Error; err != nil {
		return err
	}

	if booking.User == nil || booking.User.Email == "" {
		return nil
	}
	input := notificationEmail(topic, &booking)
	if input == nil {
		return nil
	}
	if err := lib.SendMail(input); err != nil {
		log.Printf("[notifications] Error sending email: %s\n", err.Error())
		return nil
	}
	return gdb.
		Model(&models.Notification{}).
		Where("id = ?", notification.ID).
		Update("status", "sent").
		Error
}

func notificationEmail(topic string, booking *models.Booking) *lib.SendMailInput {
	from := os.Getenv("MAIL_FROM")
	eventTitle := ""
	if booking.Event != nil {
		eventTitle = booking.Event.Title
	}
	switch topic {
	case "BookingConfirmed":
		return &lib.SendMailInput{
			From:    from,
			To:      []string{booking.User.Email},
			Subject: fmt.Sprintf("Booking confirmed: %s", eventTitle),
			Body: fmt.Sprintf(
				"Your payment for %s has been received. Your tickets are ready in your account.",
				eventTitle,
			),
		}
	case "PaymentFailed":
		return &lib.SendMailInput{
			From:    from,
			To:      []string{booking.User.Email},
			Subject: fmt.Sprintf("Payment failed: %s", eventTitle),
			Body: fmt.Sprintf(
				"Your payment for %s did not complete. You can retry from your bookings page.",
				eventTitle,
			),
		}
	default:
		return nil
	}
}

func deliverEmail(value []byte) error {
	payload := types.JSONB{}
	if err := json.Unmarshal(value, &payload); err != nil {
		return err
	}
	to := []string{}
	if items, ok := payload["to"].([]any); ok {
		for _, item := range items {
			if s, ok := item.(string); ok {
				to = append(to, s)
			}
		}
	}
	html, _ := payload["html"].(bool)
	input := lib.SendMailInput{
		From:    stringValue(payload, "from"),
		Subject: stringValue(payload, "subject"),
		Body:    stringValue(payload, "body"),
		To:      to,
		Html:    html,
	}
	return lib.SendMail(&input)
}

func stringValue(payload types.JSONB, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
