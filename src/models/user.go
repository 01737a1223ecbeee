package models

import "tikiti/src/types"

type User struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	UID       string `gorm:"uniqueIndex" json:"uid,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `gorm:"uniqueIndex" json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      string `gorm:"default:'attendee'" json:"role,omitempty"`
	ActiveOrg uint   `json:"active_org,omitempty"`

	types.Timestamps
}
