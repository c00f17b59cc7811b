package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roambrowse/roam/internal/channel"
	"github.com/roambrowse/roam/internal/events"
	"github.com/roambrowse/roam/internal/fault"
	"github.com/roambrowse/roam/internal/models"
)

type dispatcherFixture struct {
	fleet    *fakeFleet
	sessions *Sessions
	registry *channel.Registry
	disp     *Dispatcher
}

func newDispatcherFixture(t *testing.T, timeout time.Duration) *dispatcherFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fleet := newFakeFleet()
	sessions := NewSessions(fleet, nil, logger)
	registry := channel.NewRegistry(sessions, logger)
	disp := NewDispatcher(fleet, registry, sessions, nil, events.NewPublisher(nil, logger), timeout, logger)
	registry.SetReplyHandler(disp.Resolve)
	fleet.add("inst-1", models.StatusRunning)
	return &dispatcherFixture{fleet: fleet, sessions: sessions, registry: registry, disp: disp}
}

// capturingChannel records emitted requests without replying; tests inject
// replies explicitly.
func capturingChannel() (*channel.PipeChannel, func() []channel.Request) {
	var mu sync.Mutex
	var reqs []channel.Request
	ch := channel.NewPipeChannel(func(req channel.Request) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
	})
	return ch, func() []channel.Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]channel.Request(nil), reqs...)
	}
}

func TestExecuteSuccessUpdatesCommandAndSession(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)
	fx.registry.Register("u1", channel.LoopbackExecutor())

	sess, err := fx.sessions.Create("u1", "inst-1")
	require.NoError(t, err)

	cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdNavigate, map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.CommandSuccess, cmd.Status)
	assert.Equal(t, "https://example.com", cmd.Result["url"])
	assert.Equal(t, sess.ID, cmd.SessionID)
	assert.False(t, cmd.EndedAt.IsZero())

	got, err := fx.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{cmd.ID}, got.CommandIDs)
	assert.Equal(t, "https://example.com", got.CurrentLocation)
}

func TestExecuteWithoutSessionIsAllowed(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)
	fx.registry.Register("u1", channel.LoopbackExecutor())

	cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdScreenshot, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CommandSuccess, cmd.Status)
	assert.Empty(t, cmd.SessionID)
}

func TestExecuteValidation(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)
	fx.registry.Register("u1", channel.LoopbackExecutor())

	_, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CommandType("teleport"), nil)
	assert.Equal(t, fault.KindUnsupportedCommand, fault.KindOf(err))

	_, err = fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdNavigate, map[string]any{})
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))

	_, err = fx.disp.Execute(context.Background(), "u1", "missing",
		models.CmdScreenshot, nil)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	fx.fleet.add("inst-2", models.StatusProvisioning)
	_, err = fx.disp.Execute(context.Background(), "u1", "inst-2",
		models.CmdScreenshot, nil)
	assert.Equal(t, fault.KindInvalidState, fault.KindOf(err))
}

func TestExecuteWithoutChannelCreatesNoCommand(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)

	sess, err := fx.sessions.Create("u1", "inst-1")
	require.NoError(t, err)

	cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdScreenshot, nil)
	assert.Nil(t, cmd)
	assert.Equal(t, fault.KindChannelUnavailable, fault.KindOf(err))

	// no orphaned pending command may appear in the session history
	got, err := fx.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CommandIDs)
}

func TestConcurrentSameTypeCommandsResolveIndependently(t *testing.T) {
	fx := newDispatcherFixture(t, 2*time.Second)
	ch, requests := capturingChannel()
	fx.registry.Register("u1", ch)

	type result struct {
		cmd *models.Command
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
				models.CmdClick, map[string]any{"selector": "#button"})
			results <- result{cmd, err}
		}()
	}

	var reqs []channel.Request
	require.Eventually(t, func() bool {
		reqs = requests()
		return len(reqs) == 2
	}, time.Second, 5*time.Millisecond)
	require.NotEqual(t, reqs[0].Token, reqs[1].Token, "each command carries its own correlation token")

	// reply in reverse order with a token-specific payload
	for i := len(reqs) - 1; i >= 0; i-- {
		ch.Deliver(channel.Reply{
			Token:   reqs[i].Token,
			Event:   reqs[i].Event,
			Success: true,
			Result:  map[string]any{"for": reqs[i].Token},
		})
	}

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		assert.Equal(t, models.CommandSuccess, res.cmd.Status)
		assert.Equal(t, res.cmd.ID, res.cmd.Result["for"],
			"reply for one command must not resolve another")
	}
}

func TestTimeoutThenLateReplyIsIgnored(t *testing.T) {
	fx := newDispatcherFixture(t, 50*time.Millisecond)
	ch, requests := capturingChannel()
	fx.registry.Register("u1", ch)

	start := time.Now()
	cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdScreenshot, nil)
	assert.Equal(t, fault.KindTimeout, fault.KindOf(err))
	require.NotNil(t, cmd)
	assert.Equal(t, models.CommandError, cmd.Status)
	assert.Contains(t, cmd.ErrorMessage, "timed out")
	assert.Less(t, time.Since(start), time.Second, "timeout fires near the configured deadline")

	// a reply arriving after the timeout has no observable effect
	reqs := requests()
	require.Len(t, reqs, 1)
	ch.Deliver(channel.Reply{Token: reqs[0].Token, Success: true, Result: map[string]any{"late": true}})
	time.Sleep(20 * time.Millisecond)

	got, err := fx.disp.Get(cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandError, got.Status)
	assert.Nil(t, got.Result)
}

func TestReplyRacingTimeoutNeverPanics(t *testing.T) {
	fx := newDispatcherFixture(t, 50*time.Microsecond)
	ch, requests := capturingChannel()
	fx.registry.Register("u1", ch)

	for i := 0; i < 50; i++ {
		before := len(requests())
		done := make(chan *models.Command, 1)
		go func() {
			cmd, _ := fx.disp.Execute(context.Background(), "u1", "inst-1",
				models.CmdScreenshot, nil)
			done <- cmd
		}()

		var token string
		require.Eventually(t, func() bool {
			reqs := requests()
			if len(reqs) <= before {
				return false
			}
			token = reqs[len(reqs)-1].Token
			return true
		}, time.Second, time.Millisecond)

		// hammer the token while the timeout fires; late deliveries must be
		// dropped, never sent into torn-down state
		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
					ch.Deliver(channel.Reply{Token: token, Success: true})
				}
			}
		}()

		cmd := <-done
		close(stop)
		require.NotNil(t, cmd)
		assert.Contains(t, []models.CommandStatus{models.CommandSuccess, models.CommandError}, cmd.Status)
	}
}

func TestFailureReplySetsError(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)
	ch := channel.NewPipeChannel(nil)
	fx.registry.Register("u1", ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
			models.CmdExecute, map[string]any{"script": "window.scrollTo(0, 0)"})
		assert.Equal(t, fault.KindCommandFailed, fault.KindOf(err))
		assert.Equal(t, models.CommandError, cmd.Status)
		assert.Equal(t, "element detached", cmd.ErrorMessage)
	}()

	// wait for the pending command, then fail it from the remote side
	var cmdID string
	require.Eventually(t, func() bool {
		fx.disp.mu.Lock()
		defer fx.disp.mu.Unlock()
		for id := range fx.disp.pending {
			cmdID = id
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)

	ch.Deliver(channel.Reply{Token: cmdID, Success: false, Error: "element detached"})
	<-done
}

func TestGetCommand(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)
	fx.registry.Register("u1", channel.LoopbackExecutor())

	_, err := fx.disp.Get("missing")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdScreenshot, nil)
	require.NoError(t, err)

	got, err := fx.disp.Get(cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, got.ID)
	assert.Equal(t, models.CommandSuccess, got.Status)
}

func TestDisconnectForcesChannelUnavailable(t *testing.T) {
	fx := newDispatcherFixture(t, time.Second)
	fx.registry.Register("u1", channel.LoopbackExecutor())

	sess, err := fx.sessions.Create("u1", "inst-1")
	require.NoError(t, err)

	fx.registry.OnDisconnect("u1")

	got, err := fx.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, got.Status)
	assert.False(t, got.EndedAt.IsZero())

	_, err = fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdScreenshot, nil)
	assert.Equal(t, fault.KindChannelUnavailable, fault.KindOf(err))

	// re-registration restores dispatch
	fx.registry.Register("u1", channel.LoopbackExecutor())
	cmd, err := fx.disp.Execute(context.Background(), "u1", "inst-1",
		models.CmdScreenshot, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CommandSuccess, cmd.Status)
}
