// Package events publishes control-plane lifecycle events to NATS.
// Publishing is best-effort; the core keeps working without a broker.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectInstances = "roam.events.instances"
	SubjectCommands  = "roam.events.commands"
	SubjectSessions  = "roam.events.sessions"
)

// Publisher emits JSON events on NATS subjects.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// Connect dials NATS with reconnect-forever semantics and returns a Publisher.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("roamd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: logger}, nil
}

// NewPublisher wraps an existing NATS connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	return &Publisher{nc: nc, logger: logger}
}

// Conn exposes the underlying connection for transport wiring.
func (p *Publisher) Conn() *nats.Conn {
	if p == nil {
		return nil
	}
	return p.nc
}

// Publish marshals v and publishes it on subject. Safe on a nil Publisher.
func (p *Publisher) Publish(subject string, v any) error {
	if p == nil || p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		p.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
		return err
	}
	return nil
}

// InstanceTransition announces a lifecycle status change.
func (p *Publisher) InstanceTransition(id, owner, status string) {
	_ = p.Publish(SubjectInstances, map[string]any{
		"event":  "instance." + status,
		"id":     id,
		"owner":  owner,
		"status": status,
		"time":   time.Now().Unix(),
	})
}

// CommandFinished announces a command reaching a terminal status.
func (p *Publisher) CommandFinished(id, owner, cmdType, status string) {
	_ = p.Publish(SubjectCommands, map[string]any{
		"event":  "command." + status,
		"id":     id,
		"owner":  owner,
		"type":   cmdType,
		"status": status,
		"time":   time.Now().Unix(),
	})
}

// SessionClosed announces a session close (explicit or forced).
func (p *Publisher) SessionClosed(id, owner, reason string) {
	_ = p.Publish(SubjectSessions, map[string]any{
		"event":  "session.closed",
		"id":     id,
		"owner":  owner,
		"reason": reason,
		"time":   time.Now().Unix(),
	})
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
	p.nc.Close()
}
