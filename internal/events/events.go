// Package events publishes instance and approval lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/reqctx"
)

// Event types, appended to the configured subject prefix.
const (
	InstanceStarted      = "instance.started"
	InstanceTransitioned = "instance.transitioned"
	InstanceCompleted    = "instance.completed"
	InstanceCancelled    = "instance.cancelled"
	ApprovalCreated      = "approval.created"
	ApprovalDecided      = "approval.decided"
	ApprovalResolved     = "approval.resolved"
	ApprovalCancelled    = "approval.cancelled"
)

// Event is a lifecycle notification emitted after a committed state change.
type Event struct {
	Type          string    `json:"type"`
	EntityID      string    `json:"entity_id"`
	Actor         string    `json:"actor,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	Data          any       `json:"data,omitempty"`
}

// Publisher delivers lifecycle events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events.
type NoopPublisher struct{}

// Publish discards event.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn   msgPublisher
	nc     *nats.Conn
	prefix string
}

// Connect dials NATS at url and returns a publisher for subjects under prefix.
func Connect(url, prefix string, logger *logging.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("workflow-core"),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := newNATSPublisher(nc, prefix)
	p.nc = nc
	return p, nil
}

func newNATSPublisher(conn msgPublisher, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the NATS subject for an event type.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish encodes event as JSON and publishes it with the correlation id in
// the message headers.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = reqctx.CorrelationID(ctx)
	}
	if event.Actor == "" {
		event.Actor = reqctx.UserID(ctx)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	if event.CorrelationID != "" {
		msg.Header.Set(reqctx.CorrelationHeader, event.CorrelationID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}
