// Package browser orchestrates browser-control sessions and dispatches
// automation commands over the owner's channel, correlating asynchronous
// replies back to the command that requested them.
package browser

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roambrowse/roam/internal/events"
	"github.com/roambrowse/roam/internal/fault"
	"github.com/roambrowse/roam/internal/metrics"
	"github.com/roambrowse/roam/internal/models"
)

// InstanceSource is the slice of the fleet manager the browser layer needs.
type InstanceSource interface {
	Get(id string) (*models.Instance, error)
}

// Sessions creates and closes browser sessions bound to a user+instance
// pair and keeps per-session command history.
type Sessions struct {
	fleet  InstanceSource
	events *events.Publisher
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*models.Session
	// order holds session ids in creation order; the current session for an
	// owner+instance pair is the most recently created one still active.
	order []string
}

// NewSessions returns an empty session orchestrator. pub may be nil.
func NewSessions(fleet InstanceSource, pub *events.Publisher, logger *zap.Logger) *Sessions {
	return &Sessions{
		fleet:    fleet,
		events:   pub,
		logger:   logger,
		sessions: make(map[string]*models.Session),
	}
}

// Create opens an active session against a running instance. Unknown
// instances fail NotFound; non-running instances fail InvalidState.
func (s *Sessions) Create(owner, instanceID string) (*models.Session, error) {
	inst, err := s.fleet.Get(instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusRunning {
		return nil, fault.InvalidState("instance %s is %s, not running", instanceID, inst.Status)
	}

	sess := &models.Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		InstanceID: instanceID,
		Status:     models.SessionActive,
		CommandIDs: []string{},
		StartedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.logger.Info("session created",
		zap.String("id", sess.ID), zap.String("owner", owner), zap.String("instance_id", instanceID))
	return cloneSession(sess), nil
}

// Close marks a session closed and stamps its end time. Closing an already
// closed session is an idempotent no-op; unknown ids fail NotFound.
func (s *Sessions) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fault.NotFound("session %s not found", id)
	}
	if sess.Status != models.SessionActive {
		s.mu.Unlock()
		return nil
	}
	sess.Status = models.SessionClosed
	sess.EndedAt = time.Now().UTC()
	owner := sess.Owner
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	s.events.SessionClosed(id, owner, "explicit")
	s.logger.Info("session closed", zap.String("id", id))
	return nil
}

// CloseAllForOwner force-closes every active session owned by owner and
// returns how many were closed. Driven by the channel registry when the
// owner's transport disconnects.
func (s *Sessions) CloseAllForOwner(owner string) int {
	now := time.Now().UTC()
	var closed []string
	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.Owner == owner && sess.Status == models.SessionActive {
			sess.Status = models.SessionClosed
			sess.EndedAt = now
			closed = append(closed, sess.ID)
		}
	}
	s.mu.Unlock()

	for _, id := range closed {
		metrics.ActiveSessions.Dec()
		s.events.SessionClosed(id, owner, "disconnect")
	}
	if len(closed) > 0 {
		s.logger.Info("sessions force-closed",
			zap.String("owner", owner), zap.Int("count", len(closed)))
	}
	return len(closed)
}

// CurrentFor returns the most recently created still-active session for the
// owner+instance pair, or nil when there is none.
func (s *Sessions) CurrentFor(owner, instanceID string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		sess := s.sessions[s.order[i]]
		if sess.Owner == owner && sess.InstanceID == instanceID && sess.Status == models.SessionActive {
			return cloneSession(sess)
		}
	}
	return nil
}

// Get returns a copy of the session.
func (s *Sessions) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fault.NotFound("session %s not found", id)
	}
	return cloneSession(sess), nil
}

// ListByOwner returns copies of the owner's sessions, oldest first.
func (s *Sessions) ListByOwner(owner string) []*models.Session {
	s.mu.RLock()
	out := make([]*models.Session, 0)
	for _, sess := range s.sessions {
		if sess.Owner == owner {
			out = append(out, cloneSession(sess))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// attach appends a command to the current session for the pair, if any, and
// returns the session id it was attributed to.
func (s *Sessions) attach(owner, instanceID, commandID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		sess := s.sessions[s.order[i]]
		if sess.Owner == owner && sess.InstanceID == instanceID && sess.Status == models.SessionActive {
			sess.CommandIDs = append(sess.CommandIDs, commandID)
			return sess.ID
		}
	}
	return ""
}

// setLocation records the session's current navigated location.
func (s *Sessions) setLocation(sessionID, url string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.CurrentLocation = url
	}
	s.mu.Unlock()
}

func cloneSession(in *models.Session) *models.Session {
	cp := *in
	cp.CommandIDs = append([]string(nil), in.CommandIDs...)
	return &cp
}
