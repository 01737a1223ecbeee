package models

import (
	"time"

	"tikiti/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment is one mobile-money attempt for exactly one Booking, keyed by the
// provider's CheckoutRequestID. The pending -> success/failed transition is
// terminal and owned by the reconciler; TicketsIssued is the issuance
// idempotency gate and is set true at most once.
type Payment struct {
	ID                uuid.UUID           `gorm:"primarykey;type:uuid" json:"id"`
	BookingID         uint                `gorm:"index" json:"booking_id,omitempty"`
	UserID            uint                `json:"user_id,omitempty"`
	Amount            float64             `json:"amount,omitempty"`
	Method            string              `gorm:"default:'mpesa'" json:"method,omitempty"`
	CheckoutRequestID string              `gorm:"uniqueIndex" json:"checkout_request_id,omitempty"`
	MerchantRequestID string              `json:"merchant_request_id,omitempty"`
	Status            types.PaymentStatus `gorm:"default:'pending'" json:"status,omitempty"`
	MpesaReceipt      *string             `json:"mpesa_receipt,omitempty"`
	PhoneNumber       *string             `json:"phone_number,omitempty"`
	FailureReason     *string             `json:"failure_reason,omitempty"`
	TicketsIssued     bool                `json:"tickets_issued"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`

	Booking *Booking `gorm:"foreignKey:booking_id" json:"booking,omitempty"`
	User    *User    `gorm:"foreignKey:user_id" json:"-"`

	types.Timestamps
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
