package brokerfeed

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Feed constants
const (
	ConnectTimeout   = 10 * time.Second
	FeedWriteTimeout = 10 * time.Second
)

// Feed is one authenticated push connection to the brokerage. Handlers
// must be registered before Connect; the receive loop invokes them until
// the connection drops or Disconnect is called.
type Feed interface {
	Connect() error
	Subscribe(instrumentKeys []string) error
	Disconnect()
	OnMessage(func(data []byte))
	OnError(func(err error))
	OnClose(func())
}

// WSFeed implements Feed over a websocket, authenticating with the user's
// brokerage access token during the handshake.
type WSFeed struct {
	url         string
	accessToken string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	onMessage func([]byte)
	onError   func(error)
	onClose   func()
}

// NewWSFeed creates a feed client for the given endpoint and access token
func NewWSFeed(url, accessToken string) *WSFeed {
	return &WSFeed{url: url, accessToken: accessToken}
}

// OnMessage registers the inbound message handler
func (f *WSFeed) OnMessage(h func(data []byte)) { f.onMessage = h }

// OnError registers the read error handler
func (f *WSFeed) OnError(h func(err error)) { f.onError = h }

// OnClose registers the connection close handler
func (f *WSFeed) OnClose(h func()) { f.onClose = h }

// Connect dials the feed and starts the receive loop. The handshake is
// bounded by ConnectTimeout; a slow or rejected handshake surfaces as a
// connect error.
func (f *WSFeed) Connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.accessToken)

	conn, _, err := dialer.Dial(f.url, header)
	if err != nil {
		return fmt.Errorf("broker feed connect failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.closed = false
	f.mu.Unlock()

	go f.listen()
	return nil
}

type subscribeRequest struct {
	Method string `json:"method"`
	Data   struct {
		InstrumentKeys []string `json:"instrumentKeys"`
		Mode           string   `json:"mode"`
	} `json:"data"`
}

// Subscribe sends a full-mode subscription frame for the instrument keys.
func (f *WSFeed) Subscribe(instrumentKeys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("broker feed not connected")
	}

	req := subscribeRequest{Method: "sub"}
	req.Data.InstrumentKeys = instrumentKeys
	req.Data.Mode = "full"

	f.conn.SetWriteDeadline(time.Now().Add(FeedWriteTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("broker feed subscribe failed: %w", err)
	}
	return nil
}

// Disconnect closes the connection; the receive loop exits on its next
// read without reporting an error.
func (f *WSFeed) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *WSFeed) listen() {
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			deliberate := f.closed
			f.mu.Unlock()

			if !deliberate && f.onError != nil {
				f.onError(err)
			}
			if f.onClose != nil {
				f.onClose()
			}
			return
		}

		if f.onMessage != nil {
			f.onMessage(msg)
		}
	}
}
