package models

import (
	"time"

	"gorm.io/gorm"
)

// Alert represents a one-shot price alert owned by a user. Once triggered
// it stays inactive; re-arming requires creating a new alert.
type Alert struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	Symbol      string     `gorm:"index;not null" json:"symbol"`
	Condition   string     `gorm:"not null" json:"condition"` // "above" or "below"
	TargetPrice float64    `gorm:"not null" json:"target_price"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	TriggeredAt *time.Time `json:"triggered_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TriggerEvent is emitted once when an alert fires.
type TriggerEvent struct {
	AlertID      uint    `json:"id"`
	UserID       uint    `json:"user_id"`
	Symbol       string  `json:"symbol"`
	Condition    string  `json:"condition"`
	TargetPrice  float64 `json:"target_price"`
	CurrentPrice float64 `json:"current_price"`
}

// BrokerToken stores the brokerage access token linked to a user account.
// Token issuance lives outside this service; streaming only reads it.
type BrokerToken struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	AccessToken string    `gorm:"not null" json:"-"`
	TokenDate   time.Time `json:"token_date"`
}

// MigrateAlertModels runs database migrations for alert-related models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Alert{},
		&BrokerToken{},
	)
}
