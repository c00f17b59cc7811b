package browser

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roambrowse/roam/internal/channel"
	"github.com/roambrowse/roam/internal/events"
	"github.com/roambrowse/roam/internal/fault"
	"github.com/roambrowse/roam/internal/metrics"
	"github.com/roambrowse/roam/internal/models"
	"github.com/roambrowse/roam/internal/storage"
)

// ChannelSource is the slice of the channel registry the dispatcher needs.
type ChannelSource interface {
	Lookup(owner string) channel.Channel
}

// pendingReply carries the correlated reply for one in-flight command.
// The channel is buffered so Resolve never blocks, and it is never closed:
// Resolve sends only while the token is still in the pending map (under
// d.mu), so a reply racing the timeout is dropped, not sent into freed state.
type pendingReply struct {
	ch chan channel.Reply
}

// Dispatcher sends typed commands over a user's channel and matches
// asynchronous replies to the originating command by correlation token.
type Dispatcher struct {
	fleet    InstanceSource
	channels ChannelSource
	sessions *Sessions
	results  storage.ResultStore
	events   *events.Publisher
	timeout  time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	commands map[string]*models.Command
	pending  map[string]*pendingReply
}

// NewDispatcher wires a dispatcher with a fixed per-command timeout.
// results may be nil, in which case payloads stay inline on the record;
// pub may be nil.
func NewDispatcher(fleet InstanceSource, channels ChannelSource, sessions *Sessions,
	results storage.ResultStore, pub *events.Publisher, timeout time.Duration,
	logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		fleet:    fleet,
		channels: channels,
		sessions: sessions,
		results:  results,
		events:   pub,
		timeout:  timeout,
		logger:   logger,
		tracer:   otel.Tracer("roam/browser"),
		commands: make(map[string]*models.Command),
		pending:  make(map[string]*pendingReply),
	}
}

// Execute dispatches one command and blocks until its reply or the timeout,
// whichever is first. The returned Command is always terminal. The command
// id doubles as the correlation token carried in the wire envelope; replies
// resolve by token, so two in-flight commands of the same type for the same
// owner cannot cross-resolve.
func (d *Dispatcher) Execute(ctx context.Context, owner, instanceID string,
	cmdType models.CommandType, params map[string]any) (*models.Command, error) {
	ctx, span := d.tracer.Start(ctx, "browser.Execute",
		trace.WithAttributes(attribute.String("owner", owner), attribute.String("type", string(cmdType))))
	defer span.End()

	if err := validateParams(cmdType, params); err != nil {
		return nil, err
	}
	inst, err := d.fleet.Get(instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusRunning {
		return nil, fault.InvalidState("instance %s is %s, not running", instanceID, inst.Status)
	}
	// Resolve the channel before creating the record so a missing channel
	// never leaves an orphaned pending command behind.
	ch := d.channels.Lookup(owner)
	if ch == nil {
		return nil, fault.ChannelUnavailable("no live channel for owner %s", owner)
	}

	cmd := &models.Command{
		ID:         uuid.NewString(),
		Type:       cmdType,
		Params:     params,
		Status:     models.CommandPending,
		Owner:      owner,
		InstanceID: instanceID,
		StartedAt:  time.Now().UTC(),
	}
	pending := &pendingReply{ch: make(chan channel.Reply, 1)}

	d.mu.Lock()
	d.commands[cmd.ID] = cmd
	d.pending[cmd.ID] = pending
	d.mu.Unlock()

	// A command need not belong to a session; attribution is silently
	// skipped when the pair has no active session.
	cmd.SessionID = d.sessions.attach(owner, instanceID, cmd.ID)

	if err := ch.Emit(channel.Request{Token: cmd.ID, Event: string(cmdType), Params: params}); err != nil {
		d.removePending(cmd.ID)
		d.finalizeError(cmd.ID, "channel send failed: "+err.Error())
		return d.mustGet(cmd.ID), fault.Wrap(fault.KindChannelUnavailable, err, "emit %s for owner %s", cmdType, owner)
	}
	d.logger.Debug("command dispatched",
		zap.String("id", cmd.ID), zap.String("type", string(cmdType)), zap.String("owner", owner))

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case rep := <-pending.ch:
		d.removePending(cmd.ID)
		if rep.Success {
			d.finalizeSuccess(ctx, cmd.ID, rep.Result)
			return d.mustGet(cmd.ID), nil
		}
		msg := rep.Error
		if msg == "" {
			msg = "command failed"
		}
		d.finalizeError(cmd.ID, msg)
		return d.mustGet(cmd.ID), fault.New(fault.KindCommandFailed, "%s", msg)

	case <-timer.C:
		// The remote action may still complete; any reply arriving after
		// this point is discarded, not re-applied.
		d.removePending(cmd.ID)
		d.finalizeError(cmd.ID, "command timed out after "+d.timeout.String())
		return d.mustGet(cmd.ID), fault.Timeout("command %s timed out after %s", cmd.ID, d.timeout)

	case <-ctx.Done():
		d.removePending(cmd.ID)
		d.finalizeError(cmd.ID, "dispatch canceled: "+ctx.Err().Error())
		return d.mustGet(cmd.ID), fault.Wrap(fault.KindTimeout, ctx.Err(), "command %s canceled", cmd.ID)
	}
}

// Resolve routes an inbound reply envelope to the command that requested
// it. Unknown or late tokens are dropped. Wired as the registry's reply
// handler. The send happens under d.mu so it cannot race removePending:
// once the token is gone the reply is simply discarded.
func (d *Dispatcher) Resolve(rep channel.Reply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[rep.Token]
	if !ok {
		d.logger.Debug("discarding unmatched reply", zap.String("token", rep.Token))
		return
	}
	// Non-blocking: the buffer may already hold an earlier duplicate.
	select {
	case p.ch <- rep:
	default:
	}
}

// Get returns a copy of the command.
func (d *Dispatcher) Get(id string) (*models.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd, ok := d.commands[id]
	if !ok {
		return nil, fault.NotFound("command %s not found", id)
	}
	return cloneCommand(cmd), nil
}

// Result fetches the full spilled result payload for a command.
func (d *Dispatcher) Result(ctx context.Context, id string) ([]byte, error) {
	d.mu.Lock()
	cmd, ok := d.commands[id]
	var ref string
	if ok {
		ref = cmd.ResultRef
	}
	d.mu.Unlock()
	if !ok {
		return nil, fault.NotFound("command %s not found", id)
	}
	if ref == "" || d.results == nil {
		return nil, fault.NotFound("command %s has no stored result", id)
	}
	payload, err := d.results.Get(ctx, ref)
	if err != nil {
		return nil, fault.NotFound("result for command %s: %v", id, err)
	}
	return payload, nil
}

func (d *Dispatcher) removePending(token string) {
	d.mu.Lock()
	delete(d.pending, token)
	d.mu.Unlock()
}

// finalizeSuccess applies the terminal success state: result recorded
// (spilled when a store is wired), navigate updates the attributed
// session's location. Write-once: a command already terminal is untouched.
func (d *Dispatcher) finalizeSuccess(ctx context.Context, id string, result map[string]any) {
	// Spill before taking the lock so finalization of other commands never
	// queues behind store I/O. If the timeout won in the meantime the blob
	// is orphaned in scratch space, which is harmless.
	summary, ref := d.spill(ctx, id, result)

	d.mu.Lock()
	cmd, ok := d.commands[id]
	if !ok || cmd.Status != models.CommandPending {
		d.mu.Unlock()
		return
	}
	cmd.Status = models.CommandSuccess
	cmd.Result = summary
	cmd.ResultRef = ref
	cmd.EndedAt = time.Now().UTC()
	elapsed := cmd.EndedAt.Sub(cmd.StartedAt)
	cmdType, sessionID, params, owner := cmd.Type, cmd.SessionID, cmd.Params, cmd.Owner
	d.mu.Unlock()

	metrics.CommandsTotal.WithLabelValues(string(cmdType), "success").Inc()
	metrics.CommandDuration.Observe(elapsed.Seconds())
	d.events.CommandFinished(id, owner, string(cmdType), string(models.CommandSuccess))

	if cmdType == models.CmdNavigate {
		if url, ok := params["url"].(string); ok {
			d.sessions.setLocation(sessionID, url)
		}
	}
}

func (d *Dispatcher) finalizeError(id, msg string) {
	d.mu.Lock()
	cmd, ok := d.commands[id]
	if !ok || cmd.Status != models.CommandPending {
		d.mu.Unlock()
		return
	}
	cmd.Status = models.CommandError
	cmd.ErrorMessage = msg
	cmd.EndedAt = time.Now().UTC()
	elapsed := cmd.EndedAt.Sub(cmd.StartedAt)
	cmdType, owner := cmd.Type, cmd.Owner
	d.mu.Unlock()

	metrics.CommandsTotal.WithLabelValues(string(cmdType), "error").Inc()
	metrics.CommandDuration.Observe(elapsed.Seconds())
	d.events.CommandFinished(id, owner, string(cmdType), string(models.CommandError))
}

// heavyResultKeys are moved to the result store instead of living on the
// in-memory record.
var heavyResultKeys = map[string]bool{"screenshot": true, "content": true}

// spill stores the full result payload and returns the compact summary kept
// on the record plus the result-store reference (empty when inline). Runs
// without d.mu held: store I/O must not serialize command finalization.
func (d *Dispatcher) spill(ctx context.Context, commandID string, result map[string]any) (map[string]any, string) {
	if d.results == nil || result == nil {
		return result, ""
	}
	heavy := false
	for k := range result {
		if heavyResultKeys[k] {
			heavy = true
			break
		}
	}
	if !heavy {
		return result, ""
	}
	blob, err := json.Marshal(result)
	if err != nil {
		return result, ""
	}
	if err := d.results.Put(ctx, commandID, blob); err != nil {
		d.logger.Warn("result spill failed", zap.String("id", commandID), zap.Error(err))
		return result, ""
	}
	summary := make(map[string]any, len(result))
	for k, v := range result {
		if heavyResultKeys[k] {
			if s, ok := v.(string); ok {
				summary[k+"_bytes"] = len(s)
			}
			continue
		}
		summary[k] = v
	}
	return summary, commandID
}

func (d *Dispatcher) mustGet(id string) *models.Command {
	cmd, _ := d.Get(id)
	return cmd
}

func cloneCommand(in *models.Command) *models.Command {
	cp := *in
	return &cp
}
