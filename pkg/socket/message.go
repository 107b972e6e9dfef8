// Package socket implements the dashboard push channel: a websocket hub on the
// server side and a reconnecting client on the dashboard side. Frames are JSON
// envelopes carrying a named event and its payload.
package socket

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Envelope is a single frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for event with payload marshalled as data.
func Encode(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// ParseMessage decodes a frame. Frames without an event name are rejected.
func ParseMessage(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("frame has no event name")
	}
	return &env, nil
}

// Handler processes the payload of one event.
type Handler func(data json.RawMessage)

// Router maps event names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string][]Handler)}
}

// On registers fn for event. Multiple handlers run in registration order.
func (r *Router) On(event string, fn func(data json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], fn)
}

// Dispatch runs the handlers for env and reports whether any were registered.
func (r *Router) Dispatch(env *Envelope) bool {
	r.mu.RLock()
	handlers := r.handlers[env.Event]
	r.mu.RUnlock()

	for _, h := range handlers {
		h(env.Data)
	}
	return len(handlers) > 0
}
