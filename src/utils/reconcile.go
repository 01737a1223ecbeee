package utils

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tikiti/src/db"
	"tikiti/src/lib"
	"tikiti/src/models"
	"tikiti/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownCorrelationID means the provider notified us about a checkout we
// never initiated. Logged and acked, never retried from our side.
var ErrUnknownCorrelationID = errors.New("no payment matches the checkout request id")

const (
	TopicBookingConfirmed = "BookingConfirmed"
	TopicPaymentFailed    = "PaymentFailed"
	TopicTicketIssued     = "TicketIssued"
)

// EventPublisher receives domain events after the reconciliation transaction
// commits. The core never holds a live connection registry; fan-out to
// user-facing channels happens in the notification consumer.
type EventPublisher func(topic string, payload types.JSONB)

var publishEvent EventPublisher = func(topic string, payload types.JSONB) {
	go func() {
		if err := lib.KafkaProduceMessage("domain-events", topic, payload); err != nil {
			log.Printf("[events] Error publishing %s: %s\n", topic, err.Error())
		}
	}()
}

// SetEventPublisher replaces the kafka publisher. Used by tests.
func SetEventPublisher(p EventPublisher) {
	publishEvent = p
}

// withRowLock adds SELECT ... FOR UPDATE semantics to the query. The sqlite
// dialect used in tests has no FOR UPDATE; its single-writer lock already
// serializes the transactions.
func withRowLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ReconcilePayment applies one provider result to the Payment/Booking/Ticket
// model inside a single transaction. Safe to call repeatedly for the same
// checkout request id (provider redelivery) and concurrently for different
// ones: the row lock on the Payment totally orders deliveries for one id, and
// the status checks plus the tickets_issued gate turn the second delivery
// into a no-op.
func ReconcilePayment(result types.PaymentResult) error {
	// A struct condition would drop the empty id and match an arbitrary row.
	if result.CheckoutRequestID == "" {
		return ErrUnknownCorrelationID
	}

	var payment models.Payment
	var confirmed bool
	var failed bool
	var issued int

	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := withRowLock(tx).
			Where("checkout_request_id = ?", result.CheckoutRequestID).
			First(&payment).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownCorrelationID
			}
			return err
		}

		if !result.Succeeded() {
			// A late failure never downgrades a recorded success, and a
			// redelivered failure changes nothing.
			if payment.Status != types.PAYMENT_PENDING {
				return nil
			}
			reason := result.Description
			if err := tx.
				Model(&models.Payment{}).
				Where("id = ?", payment.ID).
				Updates(map[string]any{
					"status":         types.PAYMENT_FAILED,
					"failure_reason": &reason,
				}).
				Error; err != nil {
				return err
			}
			failed = true
			return nil
		}

		// pending -> failed is terminal; a success notification for a failed
		// payment is a provider contradiction we keep out of the ledger.
		if payment.Status == types.PAYMENT_FAILED {
			log.Printf("[Reconcile] Ignoring success for failed payment %s\n", payment.ID)
			return nil
		}

		if payment.Status == types.PAYMENT_PENDING {
			now := time.Now()
			if err := tx.
				Model(&models.Payment{}).
				Where("id = ?", payment.ID).
				Updates(map[string]any{
					"status":        types.PAYMENT_SUCCESS,
					"mpesa_receipt": &result.Receipt,
					"phone_number":  &result.Phone,
					"paid_at":       &now,
				}).
				Error; err != nil {
				return err
			}
			confirmed = true
		}

		if err := tx.
			Model(&models.Booking{}).
			Where("id = ?", payment.BookingID).
			Update("status", types.BOOKING_CONFIRMED).
			Error; err != nil {
			return err
		}

		// Issuance gate: on redelivery tickets_issued is already true and the
		// whole block is skipped. This is what makes redelivered success
		// notifications safe.
		if !payment.TicketsIssued {
			n, err := issueTickets(tx, payment.BookingID)
			if err != nil {
				return err
			}
			if err := tx.
				Model(&models.Payment{}).
				Where("id = ?", payment.ID).
				Update("tickets_issued", true).
				Error; err != nil {
				return err
			}
			issued = n
		}
		return nil
	})
	if err != nil {
		return err
	}

	if confirmed {
		publishEvent(TopicBookingConfirmed, types.JSONB{
			"booking_id": payment.BookingID,
			"payment_id": payment.ID.String(),
			"receipt":    result.Receipt,
			"amount":     result.Amount,
		})
	}
	if issued > 0 {
		publishEvent(TopicTicketIssued, types.JSONB{
			"booking_id": payment.BookingID,
			"count":      issued,
		})
	}
	if failed {
		publishEvent(TopicPaymentFailed, types.JSONB{
			"booking_id": payment.BookingID,
			"payment_id": payment.ID.String(),
			"reason":     result.Description,
		})
	}
	return nil
}

// issueTickets expands the booking's line items into one Ticket row per seat
// unit. Runs inside the caller's transaction: a unique-code collision (or any
// insert failure) aborts the whole reconciliation rather than leaving a
// partial ticket set behind.
func issueTickets(tx *gorm.DB, bookingID uint) (int, error) {
	var items []models.BookingItem
	if err := tx.
		Where(&models.BookingItem{BookingID: bookingID}).
		Find(&items).
		Error; err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("booking %d has no line items", bookingID)
	}
	count := 0
	for _, item := range items {
		for n := 0; n < int(item.Qty); n++ {
			ticket := models.Ticket{
				BookingID:    bookingID,
				TicketTypeID: item.TicketTypeID,
				Code:         NewRedemptionCode(),
				ManualCode:   NewManualCode(),
				Status:       types.TICKET_VALID,
			}
			if err := tx.Create(&ticket).Error; err != nil {
				return 0, err
			}
			count++
		}
	}
	return count, nil
}

// IssueTickets is the standalone entry point shared with the manual
// confirmation path. It computes the same idempotency gate as the webhook
// path, so the two entry points cannot double-issue: when tickets already
// exist it returns their count and inserts nothing.
func IssueTickets(bookingID uint) (int64, error) {
	var count int64
	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := withRowLock(tx).
			Where(&models.Payment{BookingID: bookingID}).
			First(&payment).
			Error; err != nil {
			return err
		}
		if payment.Status != types.PAYMENT_SUCCESS {
			return fmt.Errorf("payment for booking %d has not succeeded", bookingID)
		}
		if payment.TicketsIssued {
			return tx.
				Model(&models.Ticket{}).
				Where(&models.Ticket{BookingID: bookingID}).
				Count(&count).
				Error
		}
		n, err := issueTickets(tx, bookingID)
		if err != nil {
			return err
		}
		if err := tx.
			Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Update("tickets_issued", true).
			Error; err != nil {
			return err
		}
		count = int64(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ManualConfirmPayment drives the shared reconciliation routine with a
// synthetic success result. Ops/local-dev only; environments without
// reachable webhook delivery use this instead of a second, drifting copy of
// the success path.
func ManualConfirmPayment(paymentID uuid.UUID) error {
	var payment models.Payment
	db := db.GetDb()
	if err := db.
		Where("id = ?", paymentID).
		First(&payment).
		Error; err != nil {
		return err
	}
	receipt := fmt.Sprintf("MANUAL-%s", strings.ToUpper(payment.ID.String()[:8]))
	phone := ""
	if payment.PhoneNumber != nil {
		phone = *payment.PhoneNumber
	}
	return ReconcilePayment(types.PaymentResult{
		CheckoutRequestID: payment.CheckoutRequestID,
		Code:              0,
		Description:       "Confirmed manually",
		Amount:            payment.Amount,
		Receipt:           receipt,
		Phone:             phone,
	})
}

// AdmissionOutcome is what the gate UI renders: exactly one of admitted,
// already_used (with the original entry time) or not_found.
type AdmissionOutcome struct {
	Result types.AdmissionResult `json:"result"`
	UsedAt *time.Time            `json:"used_at,omitempty"`
	Ticket *models.Ticket        `json:"ticket,omitempty"`
}

// RedeemTicket atomically transitions a presented code valid -> used. The
// check and the mutation share one row-locked transaction, so two concurrent
// scans of the same code yield exactly one admitted and one already_used.
func RedeemTicket(code string, staffID uint) (*AdmissionOutcome, error) {
	outcome := &AdmissionOutcome{}
	db := db.GetDb()
	err := db.Transaction(func(tx *gorm.DB) error {
		var ticket models.Ticket
		if err := withRowLock(tx).
			Where("code = ? OR manual_code = ?", code, code).
			First(&ticket).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome.Result = types.ADMISSION_NOT_FOUND
				return nil
			}
			return err
		}
		var booking models.Booking
		if err := tx.
			Where(&models.Booking{ID: ticket.BookingID}).
			Preload("Event").
			Preload("User").
			First(&booking).
			Error; err != nil {
			return err
		}
		// Tickets are only ever issued for confirmed bookings; a code whose
		// booking has since been cancelled does not grant entry.
		if booking.Status != types.BOOKING_CONFIRMED {
			outcome.Result = types.ADMISSION_NOT_FOUND
			return nil
		}
		ticket.Booking = &booking
		if ticket.Status == types.TICKET_USED {
			outcome.Result = types.ADMISSION_ALREADY_USED
			outcome.UsedAt = ticket.UsedAt
			outcome.Ticket = &ticket
			return nil
		}
		now := time.Now()
		if err := tx.
			Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Updates(map[string]any{
				"status":      types.TICKET_USED,
				"used_at":     &now,
				"admitted_by": &staffID,
			}).
			Error; err != nil {
			return err
		}
		ticket.Status = types.TICKET_USED
		ticket.UsedAt = &now
		outcome.Result = types.ADMISSION_ADMITTED
		outcome.UsedAt = &now
		outcome.Ticket = &ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
