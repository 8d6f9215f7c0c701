package scheduler

import (
	"log"
	"time"

	"market_values_backend/config"
	"market_values_backend/services"

	"github.com/go-co-op/gocron"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron   *gocron.Scheduler
	quotes *services.QuoteService
	alerts *services.AlertService
}

// NewScheduler creates a new scheduler instance
func NewScheduler(quotes *services.QuoteService, alerts *services.AlertService) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		quotes: quotes,
		alerts: alerts,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Warm the live quote cache every minute during trading hours
	s.cron.Every(1).Minute().Do(func() {
		if isMarketOpen() {
			s.warmQuoteCache()
		}
	})

	// Sweep alerts every 5 minutes so triggers still fire while no
	// stream client is polling
	s.cron.Every(5).Minutes().Do(func() {
		if isMarketOpen() {
			s.sweepAlerts()
		}
	})

	// Purge triggered alerts weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupTriggeredAlerts()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// warmQuoteCache pre-fetches the symbol universe so client cycles hit cache
func (s *Scheduler) warmQuoteCache() {
	quotes := s.quotes.FetchAll(config.StockCodes)
	log.Printf("Warmed quote cache with %d/%d symbols", len(quotes), len(config.StockCodes))
}

// sweepAlerts evaluates all active alerts against fresh quotes
func (s *Scheduler) sweepAlerts() {
	quotes := s.quotes.FetchAll(config.StockCodes)
	events, err := s.alerts.Evaluate(services.PriceMap(quotes))
	if err != nil {
		log.Printf("Error sweeping alerts: %v", err)
		return
	}

	for _, event := range events {
		// Delivery to connected stream clients happens on their own
		// cycle; here we only record the trigger
		log.Printf("Alert %d triggered for user %d: %s %s %.2f (price %.2f)",
			event.AlertID, event.UserID, event.Symbol, event.Condition,
			event.TargetPrice, event.CurrentPrice)
	}
}

// cleanupTriggeredAlerts removes triggered alerts older than 30 days
func (s *Scheduler) cleanupTriggeredAlerts() {
	log.Println("Cleaning up old triggered alerts...")

	thirtyDaysAgo := time.Now().AddDate(0, 0, -30)
	if err := s.alerts.DeleteTriggeredBefore(thirtyDaysAgo); err != nil {
		log.Printf("Error cleaning up old alerts: %v", err)
		return
	}

	log.Println("Cleanup completed")
}

// isMarketOpen checks if the exchange is currently in its trading window
func isMarketOpen() bool {
	now := time.Now()

	// Check if weekend
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	// NSE trading hours: 9:00 - 16:00 (local time)
	hour := now.Hour()
	return hour >= 9 && hour < 16
}
