package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"market_values_backend/models"
	"market_values_backend/services/brokerfeed"

	"gorm.io/gorm"
)

// StreamListener receives fan-out frames for one local client.
type StreamListener interface {
	Send(msg StreamMessage) error
}

// FeedFactory opens a brokerage feed for a user's access token.
type FeedFactory func(accessToken string) brokerfeed.Feed

// BrokerTokenSource resolves the brokerage access token for a user. Token
// issuance and storage live outside this service.
type BrokerTokenSource interface {
	AccessToken(userID uint) (string, error)
}

// brokerSession is the shared external feed for one user.
type brokerSession struct {
	feed       brokerfeed.Feed
	listeners  map[StreamListener]bool
	subscribed map[string]bool
}

// BrokerStreamManager owns at most one external push feed per user and
// multiplexes it across all of that user's local listeners. The feed is
// opened when the first listener attaches and torn down when the last one
// detaches.
type BrokerStreamManager struct {
	newFeed FeedFactory

	mu       sync.Mutex
	sessions map[uint]*brokerSession
}

// Global broker stream manager instance
var GlobalBrokerStreamManager *BrokerStreamManager

// InitBrokerStreamManager initializes the global broker stream manager
func InitBrokerStreamManager(factory FeedFactory) {
	GlobalBrokerStreamManager = NewBrokerStreamManager(factory)
	log.Println("Broker Stream Manager initialized")
}

// NewBrokerStreamManager creates a manager using the given feed factory
func NewBrokerStreamManager(factory FeedFactory) *BrokerStreamManager {
	return &BrokerStreamManager{
		newFeed:  factory,
		sessions: make(map[uint]*brokerSession),
	}
}

// ConnectListener registers the listener under userID, opening the
// external feed when this is the user's first listener. Concurrent calls
// for the same user never create a second feed: the session entry is
// reserved under the lock before the feed is dialed. A connect failure is
// returned to the caller and leaves no session behind.
func (m *BrokerStreamManager) ConnectListener(userID uint, accessToken string, listener StreamListener) error {
	m.mu.Lock()
	if session, ok := m.sessions[userID]; ok {
		session.listeners[listener] = true
		m.mu.Unlock()
		return nil
	}

	feed := m.newFeed(accessToken)
	session := &brokerSession{
		feed:       feed,
		listeners:  map[StreamListener]bool{listener: true},
		subscribed: make(map[string]bool),
	}
	m.sessions[userID] = session
	m.mu.Unlock()

	feed.OnMessage(func(data []byte) {
		m.fanOut(userID, data)
	})
	feed.OnError(func(err error) {
		log.Printf("Broker feed error for user %d: %v", userID, err)
	})
	feed.OnClose(func() {
		m.dropSession(userID, session)
	})

	if err := feed.Connect(); err != nil {
		m.mu.Lock()
		if m.sessions[userID] == session {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()
		return err
	}

	log.Printf("Started broker feed for user %d", userID)
	return nil
}

// DisconnectListener removes the listener; the last listener out tears
// down the external feed and discards the session.
func (m *BrokerStreamManager) DisconnectListener(userID uint, listener StreamListener) {
	m.mu.Lock()
	session, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(session.listeners, listener)
	last := len(session.listeners) == 0
	if last {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if last {
		session.feed.Disconnect()
		log.Printf("Stopped broker feed for user %d", userID)
	}
}

// Subscribe forwards instrument keys to the user's existing feed. It is an
// error when no session exists; a session is never created as a side
// effect.
func (m *BrokerStreamManager) Subscribe(userID uint, instrumentKeys []string) error {
	m.mu.Lock()
	session, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no active stream session for user %d", userID)
	}
	for _, key := range instrumentKeys {
		session.subscribed[key] = true
	}
	feed := session.feed
	m.mu.Unlock()

	return feed.Subscribe(instrumentKeys)
}

// SessionCount returns the number of live user sessions.
func (m *BrokerStreamManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ListenerCount returns the number of listeners registered for the user.
func (m *BrokerStreamManager) ListenerCount(userID uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[userID]
	if !ok {
		return 0
	}
	return len(session.listeners)
}

// fanOut delivers one inbound feed frame to every listener for the user.
// A listener whose send fails is pruned; the rest still receive the frame.
func (m *BrokerStreamManager) fanOut(userID uint, data []byte) {
	m.mu.Lock()
	session, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	listeners := make([]StreamListener, 0, len(session.listeners))
	for listener := range session.listeners {
		listeners = append(listeners, listener)
	}
	m.mu.Unlock()

	msg := StreamMessage{Type: "market_data", Data: json.RawMessage(data)}
	for _, listener := range listeners {
		if err := listener.Send(msg); err != nil {
			m.mu.Lock()
			if current, ok := m.sessions[userID]; ok {
				delete(current.listeners, listener)
			}
			m.mu.Unlock()
		}
	}
}

// dropSession removes the session entry after the external feed closed on
// its own, so the next ConnectListener starts a fresh session.
func (m *BrokerStreamManager) dropSession(userID uint, session *brokerSession) {
	m.mu.Lock()
	if m.sessions[userID] == session {
		delete(m.sessions, userID)
		log.Printf("Broker feed closed for user %d, session removed", userID)
	}
	m.mu.Unlock()
}

// DBTokenSource reads brokerage access tokens from the relational store.
type DBTokenSource struct {
	db *gorm.DB
}

// NewDBTokenSource creates a token source on the given database
func NewDBTokenSource(db *gorm.DB) *DBTokenSource {
	return &DBTokenSource{db: db}
}

// AccessToken returns the stored brokerage token for the user.
func (s *DBTokenSource) AccessToken(userID uint) (string, error) {
	var token models.BrokerToken
	if err := s.db.Where("user_id = ?", userID).First(&token).Error; err != nil {
		return "", fmt.Errorf("broker token not found for user %d: %w", userID, err)
	}
	return token.AccessToken, nil
}
