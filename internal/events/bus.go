// Package events publishes domain events over NATS so downstream
// consumers (dashboards, notification workers) can react without
// polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects published by the system. Learning subjects carry the event
// type as the last token so consumers can filter with "learning.>".
const (
	SubjectSignalCreated   = "signals.created"
	SubjectSignalLifecycle = "signals.lifecycle"
	SubjectWeightUpdate    = "learning.weight_update"
	SubjectBiasDetected    = "learning.bias_detected"
	SubjectLearningAlert   = "learning.alert"
	SubjectRegimeShift     = "learning.regime_shift"
	SubjectBacktestDone    = "backtest.completed"
)

// Envelope wraps every published event
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config configures the event bus
type Config struct {
	NATSURL string
	Prefix  string // Subject prefix (default: "alphamachine.")
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		NATSURL: "nats://localhost:4222",
		Prefix:  "alphamachine.",
	}
}

// Bus publishes and subscribes to domain events via NATS
type Bus struct {
	nc     *nats.Conn
	prefix string
}

// NewBus connects to NATS and returns a ready bus
func NewBus(config Config) (*Bus, error) {
	nc, err := nats.Connect(
		config.NATSURL,
		nats.Name("alpha-machine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = "alphamachine."
	}

	log.Info().
		Str("nats_url", config.NATSURL).
		Str("prefix", config.Prefix).
		Msg("Event bus initialized")

	return &Bus{nc: nc, prefix: config.Prefix}, nil
}

// Publish serializes the payload and publishes it under the given subject
func (b *Bus) Publish(ctx context.Context, subject string, payload interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !b.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	env := Envelope{
		ID:        uuid.New(),
		Subject:   subject,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.nc.Publish(b.prefix+subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("event_id", env.ID.String()).
		Str("subject", subject).
		Msg("Published event")

	return nil
}

// Handler is a callback for received events
type Handler func(env *Envelope) error

// Subscribe subscribes to a subject. Wildcards are allowed, e.g.
// "learning.>" receives every learning event.
func (b *Bus) Subscribe(subject string, handler Handler) (*Subscription, error) {
	full := b.prefix + subject

	sub, err := b.nc.Subscribe(full, func(natsMsg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(natsMsg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", natsMsg.Subject).Msg("Failed to unmarshal event")
			return
		}
		if err := handler(&env); err != nil {
			log.Error().
				Err(err).
				Str("event_id", env.ID.String()).
				Str("subject", env.Subject).
				Msg("Event handler error")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Str("subject", full).Msg("Subscribed to events")

	return &Subscription{sub: sub, subject: full}, nil
}

// Flush waits until all published events reach the server
func (b *Bus) Flush(timeout time.Duration) error {
	return b.nc.FlushTimeout(timeout)
}

// Stats returns connection statistics for health endpoints
func (b *Bus) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if b.nc != nil {
		stats["connected"] = b.nc.IsConnected()
		stats["status"] = b.nc.Status().String()
		stats["out_msgs"] = b.nc.Stats().OutMsgs
		stats["reconnects"] = b.nc.Stats().Reconnects
	}
	return stats
}

// Close closes the bus connection
func (b *Bus) Close() error {
	if b.nc != nil {
		b.nc.Close()
		log.Info().Msg("Event bus closed")
	}
	return nil
}

// Subscription represents an active subscription
type Subscription struct {
	sub     *nats.Subscription
	subject string
}

// Unsubscribe unsubscribes from the subscription
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// IsValid returns whether the subscription is still active
func (s *Subscription) IsValid() bool {
	return s.sub.IsValid()
}
