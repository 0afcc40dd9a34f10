package models

import "time"

// DeviceFlag is a durable per-device key/value flag.
type DeviceFlag struct {
	Key       string     `json:"key" gorm:"primaryKey;size:255"`
	Value     string     `json:"value" gorm:"type:text;not null"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index"`
	CreatedAt time.Time  `json:"created_at"`
}

func (DeviceFlag) TableName() string {
	return "device_flags"
}
