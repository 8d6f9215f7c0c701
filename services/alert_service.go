package services

import (
	"time"

	"market_values_backend/models"

	"gorm.io/gorm"
)

// Alert conditions
const (
	AlertConditionAbove = "above"
	AlertConditionBelow = "below"
)

// AlertService evaluates one-shot price alerts against live prices.
type AlertService struct {
	db *gorm.DB
}

// Global alert service instance
var GlobalAlertService *AlertService

// InitAlertService initializes the global alert service
func InitAlertService(db *gorm.DB) {
	GlobalAlertService = NewAlertService(db)
}

// NewAlertService creates an alert service on the given database
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

// Evaluate checks every active alert against the price map and returns an
// event per alert whose boundary was crossed. Boundaries are inclusive:
// "above" fires at price >= target, "below" at price <= target. Triggered
// alerts are deactivated in the same transaction; if the commit fails no
// events are reported and the alerts stay active for the next cycle.
func (s *AlertService) Evaluate(prices map[string]float64) ([]models.TriggerEvent, error) {
	var events []models.TriggerEvent

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var alerts []models.Alert
		if err := tx.Where("is_active = ?", true).Find(&alerts).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range alerts {
			alert := &alerts[i]

			// No price for the symbol this cycle means no verdict
			price, ok := prices[alert.Symbol]
			if !ok {
				continue
			}

			shouldTrigger := false
			switch alert.Condition {
			case AlertConditionAbove:
				shouldTrigger = price >= alert.TargetPrice
			case AlertConditionBelow:
				shouldTrigger = price <= alert.TargetPrice
			}
			if !shouldTrigger {
				continue
			}

			if err := tx.Model(alert).Updates(map[string]interface{}{
				"is_active":    false,
				"triggered_at": now,
			}).Error; err != nil {
				return err
			}

			events = append(events, models.TriggerEvent{
				AlertID:      alert.ID,
				UserID:       alert.UserID,
				Symbol:       alert.Symbol,
				Condition:    alert.Condition,
				TargetPrice:  alert.TargetPrice,
				CurrentPrice: price,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteTriggeredBefore removes triggered alerts older than the cutoff.
func (s *AlertService) DeleteTriggeredBefore(cutoff time.Time) error {
	return s.db.Where("is_active = ? AND triggered_at < ?", false, cutoff).
		Delete(&models.Alert{}).Error
}
