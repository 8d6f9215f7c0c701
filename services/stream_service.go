package services

import (
	"log"
	"sync"
	"time"

	"market_values_backend/models"

	"github.com/gorilla/websocket"
)

// Stream constants
const (
	MaxStreamClients   = 100 // Maximum concurrent broadcast clients
	StreamWriteTimeout = 10 * time.Second
	BroadcastInterval  = 5 * time.Second
)

// StreamMessage is the outbound websocket frame. Data carries the payload
// for "prices", "alert" and "market_data" frames; Message carries the text
// of "error" frames.
type StreamMessage struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// StreamConn is the write side of one client connection.
type StreamConn interface {
	WriteJSON(v interface{}) error
}

// WSConn adapts a gorilla connection to StreamConn, serializing writes and
// applying the write deadline on every frame.
type WSConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSConn wraps an upgraded websocket connection
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// WriteJSON writes one JSON frame under the write deadline.
func (c *WSConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(StreamWriteTimeout))
	return c.conn.WriteJSON(v)
}

// Send delivers one stream message; it satisfies StreamListener so the
// same wrapper serves the broker fan-out path.
func (c *WSConn) Send(msg StreamMessage) error {
	return c.WriteJSON(msg)
}

// StreamService drives the per-connection broadcast loop: poll quotes,
// evaluate alerts, push, sleep, repeat until the client goes away.
type StreamService struct {
	quotes   *QuoteService
	alerts   *AlertService
	symbols  []string
	interval time.Duration

	mu          sync.Mutex
	clientCount int
}

// Global stream service instance
var GlobalStreamService *StreamService

// InitStreamService initializes the global stream service
func InitStreamService(quotes *QuoteService, alerts *AlertService, symbols []string) {
	GlobalStreamService = NewStreamService(quotes, alerts, symbols)
	log.Println("Stream Service initialized")
}

// NewStreamService creates a stream service for the given symbol universe
func NewStreamService(quotes *QuoteService, alerts *AlertService, symbols []string) *StreamService {
	return &StreamService{
		quotes:   quotes,
		alerts:   alerts,
		symbols:  symbols,
		interval: BroadcastInterval,
	}
}

// Run drives one client connection until the first write failure or until
// stop is closed. The first cycle runs immediately.
func (s *StreamService) Run(conn StreamConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.cycle(conn); err != nil {
			log.Printf("Stream client write failed: %v", err)
			return
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one poll -> evaluate -> push pass. The price frame always
// precedes that cycle's alert frames. Only transport errors are returned;
// an alert evaluation failure is logged and the cycle keeps pushing.
func (s *StreamService) cycle(conn StreamConn) error {
	quotes := s.quotes.FetchAll(s.symbols)

	var events []models.TriggerEvent
	if s.alerts != nil {
		var err error
		events, err = s.alerts.Evaluate(PriceMap(quotes))
		if err != nil {
			log.Printf("Alert check skipped: %v", err)
		}
	}

	if err := conn.WriteJSON(StreamMessage{Type: "prices", Data: quotes}); err != nil {
		return err
	}
	for _, event := range events {
		if err := conn.WriteJSON(StreamMessage{Type: "alert", Data: event}); err != nil {
			return err
		}
	}
	return nil
}

// TryAcquireSlot reserves a client slot; false when at capacity.
func (s *StreamService) TryAcquireSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientCount >= MaxStreamClients {
		return false
	}
	s.clientCount++
	return true
}

// ReleaseSlot frees a previously acquired client slot.
func (s *StreamService) ReleaseSlot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientCount > 0 {
		s.clientCount--
	}
}

// ClientCount returns the number of connected broadcast clients.
func (s *StreamService) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCount
}
