package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction is one intercepted agent step
	EventTypeRedaction EventType = "redaction"
	// EventTypePrivacyStatus reports privacy filtering being toggled
	EventTypePrivacyStatus EventType = "privacy_status"
	// EventTypeAuditCleared reports the audit log being truncated
	EventTypeAuditCleared EventType = "audit_cleared"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PrivacyStatusEvent carries the current filtering state
type PrivacyStatusEvent struct {
	Enabled bool `json:"enabled"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

// SubscriptionRequest limits the event types a client receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.Mutex
	subscription *SubscriptionRequest
	lastPing     time.Time
}

func (c *Client) subscribe(sub *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
}

// wants reports whether the client's subscription includes t. Clients
// without a subscription receive everything.
func (c *Client) wants(t EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription == nil {
		return true
	}
	for _, et := range c.subscription.Events {
		if et == t {
			return true
		}
	}
	return false
}
