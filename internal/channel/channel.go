// Package channel maps owner identities to their live bidirectional
// transport and fans inbound replies to the command dispatcher.
package channel

import (
	"sync"

	"go.uber.org/zap"
)

// Request is the outbound command envelope. Token is the correlation token
// the remote executor must echo back in its Reply; replies are matched by
// token, never by event name alone.
type Request struct {
	Token  string         `json:"token"`
	Event  string         `json:"event"`
	Params map[string]any `json:"params,omitempty"`
}

// Reply is the inbound result envelope for one Request.
type Reply struct {
	Token   string         `json:"token"`
	Event   string         `json:"event"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// Channel is one owner's live transport link to a remote executor.
// Implementations deliver every inbound reply to the handler set by OnReply.
type Channel interface {
	Emit(req Request) error
	OnReply(fn func(Reply))
	Close() error
}

// SessionCloser force-closes every active session for an owner. Implemented
// by the browser session orchestrator; the registry calls it on disconnect.
type SessionCloser interface {
	CloseAllForOwner(owner string) int
}

// Registry maps each owner to its single live channel.
type Registry struct {
	logger   *zap.Logger
	sessions SessionCloser

	mu       sync.RWMutex
	channels map[string]Channel
	onReply  func(Reply)
}

// NewRegistry returns an empty registry. Call SetReplyHandler before the
// first Register so inbound replies have somewhere to go.
func NewRegistry(sessions SessionCloser, logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: sessions,
		channels: make(map[string]Channel),
	}
}

// SetReplyHandler wires the dispatcher's resolver. Replies arriving while no
// handler is set are dropped.
func (r *Registry) SetReplyHandler(fn func(Reply)) {
	r.mu.Lock()
	r.onReply = fn
	r.mu.Unlock()
}

// Register stores ch as the owner's channel, replacing any prior one
// wholesale. The prior handle is abandoned, not closed; closing is the
// transport's responsibility.
func (r *Registry) Register(owner string, ch Channel) {
	ch.OnReply(r.dispatchReply)
	r.mu.Lock()
	_, replaced := r.channels[owner]
	r.channels[owner] = ch
	r.mu.Unlock()
	r.logger.Info("channel registered", zap.String("owner", owner), zap.Bool("replaced", replaced))
}

// Lookup returns the owner's channel, or nil when none is registered.
func (r *Registry) Lookup(owner string) Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[owner]
}

// OnDisconnect removes the owner's mapping and force-closes every active
// session owned by that user. Invoked by the transport layer.
func (r *Registry) OnDisconnect(owner string) {
	r.mu.Lock()
	_, had := r.channels[owner]
	delete(r.channels, owner)
	r.mu.Unlock()
	if !had {
		return
	}
	closed := r.sessions.CloseAllForOwner(owner)
	r.logger.Info("channel disconnected",
		zap.String("owner", owner), zap.Int("sessions_closed", closed))
}

func (r *Registry) dispatchReply(rep Reply) {
	r.mu.RLock()
	fn := r.onReply
	r.mu.RUnlock()
	if fn == nil {
		r.logger.Warn("reply dropped, no handler", zap.String("token", rep.Token))
		return
	}
	fn(rep)
}
