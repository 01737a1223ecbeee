package models

import "tikiti/src/types"

// TicketType is one purchasable tier of an event (price, seat limit). Issued
// seats are Ticket rows referencing their type.
type TicketType struct {
	ID       uint                   `gorm:"primarykey" json:"id"`
	Name     string                 `json:"name,omitempty"`
	Tier     string                 `json:"tier,omitempty"`
	Status   types.TicketTypeStatus `gorm:"default:'draft'" json:"status,omitempty"`
	Price    float64                `json:"price"`
	Currency string                 `json:"currency,omitempty"`
	Limit    uint                   `json:"limit"`
	EventID  uint                   `json:"event_id,omitempty"`

	Event *Event `json:"event,omitempty"`

	Stats *TicketTypeStats `gorm:"-" json:"stats,omitempty"`

	types.Timestamps
}

type TicketTypeStats struct {
	TicketTypeID uint `json:"ticket_type_id,omitempty"`
	Free         uint `json:"free,omitempty"`
	Reserved     uint `json:"reserved,omitempty"`
}
