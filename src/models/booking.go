package models

import "tikiti/src/types"

// Booking reserves seats across one or more ticket types of a single event.
// Status moves pending -> confirmed only through a successful Payment; the
// reconciler is the only writer of that transition.
type Booking struct {
	ID       uint                `gorm:"primarykey" json:"id"`
	EventID  uint                `json:"event_id,omitempty"`
	UserID   uint                `json:"user_id,omitempty"`
	Seats    uint                `json:"seats,omitempty"`
	Total    float64             `json:"total,omitempty"`
	Currency string              `json:"currency,omitempty"`
	Status   types.BookingStatus `gorm:"default:'pending'" json:"status,omitempty"`

	Event   *Event        `gorm:"foreignKey:event_id" json:"event,omitempty"`
	User    *User         `gorm:"foreignKey:user_id" json:"user,omitempty"`
	Items   []BookingItem `gorm:"foreignKey:booking_id" json:"items,omitempty"`
	Payment *Payment      `gorm:"foreignKey:booking_id" json:"payment,omitempty"`
	Tickets []Ticket      `gorm:"foreignKey:booking_id" json:"tickets,omitempty"`

	types.Timestamps
}

// BookingItem is a line item fixed at creation time and read-only thereafter.
type BookingItem struct {
	ID           uint    `gorm:"primarykey" json:"id"`
	BookingID    uint    `gorm:"index" json:"booking_id,omitempty"`
	TicketTypeID uint    `json:"ticket_type_id,omitempty"`
	Qty          uint    `json:"qty,omitempty"`
	UnitPrice    float64 `json:"unit_price,omitempty"`
	Subtotal     float64 `json:"subtotal,omitempty"`

	TicketType *TicketType `gorm:"foreignKey:ticket_type_id" json:"ticket_type,omitempty"`

	types.Timestamps
}
