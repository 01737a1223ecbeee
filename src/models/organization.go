package models

import "tikiti/src/types"

type Organization struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	Name         string `json:"name,omitempty"`
	About        string `json:"about,omitempty"`
	Country      string `json:"country,omitempty"`
	ContactEmail string `json:"email,omitempty"`
	Slug         string `gorm:"uniqueIndex" json:"slug,omitempty"`
	OwnerID      uint   `json:"owner_id,omitempty"`

	Owner  *User   `gorm:"foreignKey:owner_id" json:"-"`
	Events []Event `gorm:"foreignKey:organizer_id" json:"events,omitempty"`

	types.Timestamps
}
