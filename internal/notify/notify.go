// Package notify fans events out to registered channels. Dispatch is
// best-effort: a failing channel is logged and the rest still run.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Event is what channels receive. Payload must be JSON-serializable.
type Event struct {
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`
	Payload  any    `json:"payload,omitempty"`
}

type Channel interface {
	Send(ctx context.Context, event Event) error
}

// Registry maps channel names to implementations. Channels are registered
// once during wiring; Dispatch may run from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

func (r *Registry) Register(name string, channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[name] = channel
}

func (r *Registry) Dispatch(ctx context.Context, tenantID, eventType string, payload any) {
	event := Event{TenantID: tenantID, Type: eventType, Payload: payload}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, channel := range r.channels {
		if err := channel.Send(ctx, event); err != nil {
			log.Warn().Err(err).Str("channel", name).Str("event", eventType).Msg("notification dispatch failed")
		}
	}
}

// LogChannel writes events to the process log. It is always registered so
// every deployment has at least one visible notification sink.
type LogChannel struct{}

func (LogChannel) Send(_ context.Context, event Event) error {
	log.Info().Str("tenant_id", event.TenantID).Str("event", event.Type).
		Interface("payload", event.Payload).Msg("notification")
	return nil
}
