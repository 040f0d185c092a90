package models

import "time"

// Endpoint is a paired wearable node reachable through one transport
type Endpoint struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Transport  string    `json:"transport" db:"transport"` // nats, websocket
	Capability string    `json:"capability" db:"capability"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
}
