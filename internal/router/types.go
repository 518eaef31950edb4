package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved event types.
const (
	// Wildcard subscribes a handler to every dispatched event.
	Wildcard = "*"

	// TypePing is sent by the client as a keepalive. It has no payload.
	TypePing = "ping"

	// TypePong acknowledges a ping. It is consumed by the router and never
	// dispatched.
	TypePong = "pong"
)

var (
	ErrEmptyType = errors.New("event has no type")
	ErrNoData    = errors.New("event has no data")
)

// Frame is a raw inbound text message as read from the transport.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
	SessionID  uuid.UUID // transport session that produced the frame
}

// Event is a parsed {type, data} message.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	ReceivedAt time.Time `json:"-"`
	SessionID  uuid.UUID `json:"-"`
}

// NewEvent builds an outbound event, marshalling data when non-nil.
func NewEvent(eventType string, data any) (Event, error) {
	if eventType == "" {
		return Event{}, ErrEmptyType
	}
	ev := Event{Type: eventType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s data: %w", eventType, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Handler receives a dispatched event. Handlers registered for a type
// usually only need ev.Data; wildcard handlers see the whole event.
// A returned error is logged by the router and does not affect other
// handlers.
type Handler func(ctx context.Context, ev Event) error

// UnsubscribeFunc removes a subscription. Safe to call multiple times,
// including from inside a handler during dispatch.
type UnsubscribeFunc func()

// Decode unmarshals the event payload into T.
func Decode[T any](ev Event) (T, error) {
	var v T
	if len(ev.Data) == 0 {
		return v, fmt.Errorf("decode %s: %w", ev.Type, ErrNoData)
	}
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	return v, nil
}

// Parse decodes a frame into an event. Frames that are not a JSON object
// with a non-empty string type are rejected.
func Parse(f Frame) (Event, error) {
	var ev Event
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return Event{}, fmt.Errorf("parse frame: %w", err)
	}
	if ev.Type == "" {
		return Event{}, ErrEmptyType
	}
	if ev.Type == Wildcard {
		return Event{}, fmt.Errorf("parse frame: reserved type %q", Wildcard)
	}
	if string(ev.Data) == "null" {
		ev.Data = nil
	}
	ev.ReceivedAt = f.ReceivedAt
	ev.SessionID = f.SessionID
	return ev, nil
}

// Stats contains router statistics.
type Stats struct {
	Received      int64 // frames seen
	Dispatched    int64 // parsed events, pongs excluded
	Unhandled     int64 // events with no subscriber at all
	ParseErrors   int64
	Pongs         int64
	HandlerErrors int64 // returned errors
	HandlerPanics int64
}
