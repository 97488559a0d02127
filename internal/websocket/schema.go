package websocket

import "github.com/stemsi/exstem-lockdown/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing    Action = "ping"
	ActionRefresh Action = "refresh"
)

// RequestEnvelope is the only client message shape on the monitor feed.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSnapshot Event = "snapshot"
	EventActivity Event = "activity"
	EventPing     Event = "ping"
	EventPong     Event = "pong"
)

// SnapshotResponse carries the exam overview, sent on attach and on refresh.
type SnapshotResponse struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data"`
}

// ActivityResponse forwards one lockdown or timer event as it happens.
type ActivityResponse struct {
	Event Event                  `json:"event"`
	Entry model.ActivityLogEntry `json:"entry"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PingResponse struct {
	Event Event `json:"event"`
}
