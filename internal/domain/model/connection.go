package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectedPayload represents the data sent to the client upon successful connection.
type ConnectedPayload struct {
	Ok                bool   `json:"ok"`
	ConnectionID      string `json:"connectionId"`
	ServerVersion     string `json:"serverVersion"`
	HeartbeatInterval int64  `json:"heartbeatIntervalMs"`
}

// HeartbeatAck answers a client heartbeat; Alive is false once the connection was superseded.
type HeartbeatAck struct {
	Alive      bool  `json:"alive"`
	ServerTime int64 `json:"serverTime"`
}

// AuthUser is the identity resolved at connect time, before registry admission.
type AuthUser struct {
	UserID    uuid.UUID
	Subject   string
	ExpiresAt time.Time
}

// ServerVersion is stamped into the connected handshake.
var ServerVersion = "0.0.0"

// MeterName is the instrumentation scope of every counter this service records.
const MeterName = "im-presence"
