package models

import "tikiti/src/types"

type Notification struct {
	ID      uint        `gorm:"primarykey" json:"id"`
	UserID  uint        `gorm:"index" json:"user_id,omitempty"`
	Topic   string      `json:"topic,omitempty"`
	Payload types.JSONB `gorm:"type:jsonb" json:"payload,omitempty"`
	Status  string      `gorm:"default:'pending'" json:"status,omitempty"`

	types.Timestamps
}
