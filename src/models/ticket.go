package models

import (
	"time"

	"tikiti/src/types"
)

// Ticket is one redeemable seat. Rows are created only by the issuance
// engine, one per seat-unit of a confirmed booking, and the only update they
// ever see is the valid -> used transition at the door.
type Ticket struct {
	ID           uint               `gorm:"primarykey" json:"id"`
	BookingID    uint               `gorm:"index" json:"booking_id,omitempty"`
	TicketTypeID uint               `json:"ticket_type_id,omitempty"`
	Code         string             `gorm:"uniqueIndex;size:64" json:"code,omitempty"`
	ManualCode   string             `gorm:"uniqueIndex;size:16" json:"manual_code,omitempty"`
	Status       types.TicketStatus `gorm:"default:'valid'" json:"status,omitempty"`
	UsedAt       *time.Time         `json:"used_at,omitempty"`
	AdmittedBy   *uint              `json:"admitted_by,omitempty"`

	Booking    *Booking    `gorm:"foreignKey:booking_id" json:"booking,omitempty"`
	TicketType *TicketType `gorm:"foreignKey:ticket_type_id" json:"ticket_type,omitempty"`

	types.Timestamps
}
