package channel

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject layout for per-owner executor links. The remote executor on the
// instance subscribes to the command subject and publishes result envelopes
// on the reply subject.
func cmdSubject(owner string) string   { return "roam.cmd." + owner }
func replySubject(owner string) string { return "roam.reply." + owner }

// NATSChannel carries one owner's command/reply traffic over NATS subjects.
type NATSChannel struct {
	owner  string
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *zap.Logger

	mu      sync.RWMutex
	onReply func(Reply)
	closed  bool
}

// NewNATSChannel subscribes to the owner's reply subject and returns the
// channel. Callers register it with the Registry.
func NewNATSChannel(nc *nats.Conn, owner string, logger *zap.Logger) (*NATSChannel, error) {
	c := &NATSChannel{owner: owner, nc: nc, logger: logger}
	sub, err := nc.Subscribe(replySubject(owner), c.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe replies for %s: %w", owner, err)
	}
	c.sub = sub
	return c, nil
}

// Owner returns the identity this channel serves.
func (c *NATSChannel) Owner() string { return c.owner }

func (c *NATSChannel) Emit(req Request) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("channel for %s is closed", c.owner)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.nc.Publish(cmdSubject(c.owner), payload)
}

func (c *NATSChannel) OnReply(fn func(Reply)) {
	c.mu.Lock()
	c.onReply = fn
	c.mu.Unlock()
}

func (c *NATSChannel) handleMsg(msg *nats.Msg) {
	var rep Reply
	if err := json.Unmarshal(msg.Data, &rep); err != nil {
		c.logger.Warn("undecodable reply envelope",
			zap.String("owner", c.owner), zap.Error(err))
		return
	}
	c.mu.RLock()
	fn := c.onReply
	c.mu.RUnlock()
	if fn != nil {
		fn(rep)
	}
}

func (c *NATSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.sub.Unsubscribe()
}
