package controllers

import (
	"log"
	"net/http"
	"time"

	"market_values_backend/middleware"
	"market_values_backend/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Websocket handshake constants
const (
	BrokerAuthTimeout = 10 * time.Second
)

// StreamController handles the websocket endpoints
type StreamController struct {
	stream   *services.StreamService
	broker   *services.BrokerStreamManager
	tokens   services.BrokerTokenSource
	upgrader websocket.Upgrader
}

// NewStreamController creates a new stream controller
func NewStreamController(stream *services.StreamService, broker *services.BrokerStreamManager, tokens services.BrokerTokenSource) *StreamController {
	return &StreamController{
		stream: stream,
		broker: broker,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleStocks serves the generic polling stream: a price frame plus any
// alert frames every broadcast interval until the client disconnects.
// GET /ws/stocks
func (sc *StreamController) HandleStocks(c *gin.Context) {
	if !sc.stream.TryAcquireSlot() {
		c.String(http.StatusServiceUnavailable, "Server at capacity")
		return
	}
	defer sc.stream.ReleaseSlot()

	conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Inbound frames are ignored; the read pump only detects disconnect
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sc.stream.Run(services.NewWSConn(conn), stop)
}

// authMessage is the first frame a broker-stream client must send.
type authMessage struct {
	Token string `json:"token"`
}

// clientCommand is any later inbound frame on the broker stream.
type clientCommand struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// HandleBroker serves the per-user brokerage push stream. The client
// authenticates with its first frame, then receives every message from the
// user's shared external feed; "subscribe" commands forward instrument
// keys to that feed.
// GET /ws/broker
func (sc *StreamController) HandleBroker(c *gin.Context) {
	conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ws := services.NewWSConn(conn)

	// Auth handshake is time-bounded; a silent client is dropped
	conn.SetReadDeadline(time.Now().Add(BrokerAuthTimeout))
	var auth authMessage
	if err := conn.ReadJSON(&auth); err != nil || auth.Token == "" {
		ws.WriteJSON(services.StreamMessage{Type: "error", Message: "No auth token"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	claims, err := middleware.ParseAccessToken(auth.Token)
	if err != nil {
		ws.WriteJSON(services.StreamMessage{Type: "error", Message: "Invalid token"})
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		ws.WriteJSON(services.StreamMessage{Type: "error", Message: "Invalid token"})
		return
	}

	accessToken, err := sc.tokens.AccessToken(userID)
	if err != nil {
		ws.WriteJSON(services.StreamMessage{Type: "error", Message: "Broker account not linked"})
		return
	}

	if err := sc.broker.ConnectListener(userID, accessToken, ws); err != nil {
		log.Printf("Broker stream connect failed for user %d: %v", userID, err)
		ws.WriteJSON(services.StreamMessage{Type: "error", Message: "Broker stream connect failed"})
		return
	}
	defer sc.broker.DisconnectListener(userID, ws)

	ws.WriteJSON(services.StreamMessage{Type: "connected", Message: "Broker stream connected"})

	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Type == "subscribe" && len(cmd.Instruments) > 0 {
			if err := sc.broker.Subscribe(userID, cmd.Instruments); err != nil {
				ws.WriteJSON(services.StreamMessage{Type: "error", Message: err.Error()})
			}
		}
	}
}

// GetStreamStatus reports connection counts for both stream paths.
// GET /api/v1/stream/status
func (sc *StreamController) GetStreamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stream_clients":  sc.stream.ClientCount(),
		"broker_sessions": sc.broker.SessionCount(),
		"max_clients":     services.MaxStreamClients,
	})
}
