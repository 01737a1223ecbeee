package models

import "tikiti/src/types"

type Setting struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	SettingKey   string `gorm:"uniqueIndex" json:"key,omitempty"`
	SettingValue string `json:"value,omitempty"`
	Group        string `json:"group,omitempty"`

	types.Timestamps
}
