// Package notify publishes batch status transitions to NATS so downstream
// consumers (dashboards, the reward ledger) observe settlement outcomes
// without polling the database. Publishing is best-effort and never alters
// a batch's outcome.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection configuration.
type Config struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "settlement-engine",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 10 * time.Second,
	}
}

// BatchEvent is one settlement status transition.
type BatchEvent struct {
	BatchID     string    `json:"batch_id"`
	Status      string    `json:"status"`
	AdapterType string    `json:"adapter_type,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier publishes batch events.
type Notifier interface {
	Publish(ctx context.Context, event BatchEvent) error
	Close() error
}

// NatsNotifier publishes to settlement.batch.<status> subjects.
type NatsNotifier struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect establishes the NATS connection.
func Connect(cfg Config, logger *slog.Logger) (*NatsNotifier, error) {
	log := logger.With("component", "notifier")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NatsNotifier{nc: nc, logger: log}, nil
}

var _ Notifier = (*NatsNotifier)(nil)

// Publish emits the event to settlement.batch.<status>.
func (n *NatsNotifier) Publish(ctx context.Context, event BatchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("settlement.batch.%s", event.Status)
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NatsNotifier) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Noop discards events; used when NATS is not configured.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) Publish(ctx context.Context, event BatchEvent) error { return nil }
func (Noop) Close() error                                        { return nil }
