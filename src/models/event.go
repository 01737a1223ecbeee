package models

import (
	"time"

	"tikiti/src/types"
)

type Event struct {
	ID          uint              `gorm:"primarykey" json:"id"`
	Title       string            `json:"title,omitempty"`
	Name        string            `json:"name,omitempty"`
	Slug        string            `gorm:"index" json:"slug,omitempty"`
	About       *string           `json:"about,omitempty"`
	Location    string            `json:"location,omitempty"`
	DateTime    *time.Time        `json:"date_time,omitempty"`
	OpensAt     *time.Time        `json:"opens_at,omitempty"`
	Deadline    *time.Time        `json:"deadline,omitempty"`
	Status      types.EventStatus `gorm:"default:'draft'" json:"status,omitempty"`
	Seats       uint              `json:"seats,omitempty"`
	OrganizerID uint              `json:"organizer,omitempty"`
	CreatedBy   uint              `json:"created_by,omitempty"`

	Creator      *User         `gorm:"foreignKey:created_by" json:"-"`
	Organization *Organization `gorm:"foreignKey:organizer_id" json:"-"`
	TicketTypes  []TicketType  `gorm:"foreignKey:event_id" json:"ticket_types,omitempty"`

	types.Timestamps
}
