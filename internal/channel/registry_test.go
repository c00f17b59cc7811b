package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSessionCloser struct {
	mu     sync.Mutex
	calls  []string
	closed int
}

func (f *fakeSessionCloser) CloseAllForOwner(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, owner)
	return f.closed
}

func (f *fakeSessionCloser) owners() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(&fakeSessionCloser{}, zaptest.NewLogger(t))

	assert.Nil(t, r.Lookup("u1"))

	first := NewPipeChannel(nil)
	r.Register("u1", first)
	assert.Same(t, Channel(first), r.Lookup("u1"))
	assert.Nil(t, r.Lookup("u2"))

	// a reconnect replaces the mapping wholesale
	second := NewPipeChannel(nil)
	r.Register("u1", second)
	assert.Same(t, Channel(second), r.Lookup("u1"))
}

func TestRegistryDisconnectClosesSessions(t *testing.T) {
	closer := &fakeSessionCloser{closed: 2}
	r := NewRegistry(closer, zaptest.NewLogger(t))
	r.Register("u1", NewPipeChannel(nil))

	r.OnDisconnect("u1")
	assert.Nil(t, r.Lookup("u1"))
	assert.Equal(t, []string{"u1"}, closer.owners())

	// no mapping, no force-close
	r.OnDisconnect("u1")
	r.OnDisconnect("never-registered")
	assert.Equal(t, []string{"u1"}, closer.owners())
}

func TestRegistryRoutesRepliesToHandler(t *testing.T) {
	r := NewRegistry(&fakeSessionCloser{}, zaptest.NewLogger(t))
	got := make(chan Reply, 1)
	r.SetReplyHandler(func(rep Reply) { got <- rep })

	ch := NewPipeChannel(nil)
	r.Register("u1", ch)
	ch.Deliver(Reply{Token: "tok-1", Success: true})

	select {
	case rep := <-got:
		assert.Equal(t, "tok-1", rep.Token)
		assert.True(t, rep.Success)
	case <-time.After(time.Second):
		t.Fatal("reply never reached handler")
	}
}

func TestRegistryDropsRepliesWithoutHandler(t *testing.T) {
	r := NewRegistry(&fakeSessionCloser{}, zaptest.NewLogger(t))
	ch := NewPipeChannel(nil)
	r.Register("u1", ch)

	// must not panic
	ch.Deliver(Reply{Token: "tok-1"})
}

func TestPipeChannelLifecycle(t *testing.T) {
	seen := make(chan Request, 1)
	ch := NewPipeChannel(func(req Request) { seen <- req })

	require.NoError(t, ch.Emit(Request{Token: "t1", Event: "navigate"}))
	select {
	case req := <-seen:
		assert.Equal(t, "t1", req.Token)
	case <-time.After(time.Second):
		t.Fatal("executor never ran")
	}

	require.NoError(t, ch.Close())
	assert.Error(t, ch.Emit(Request{Token: "t2"}))
}

func TestLoopbackExecutorEchoesParams(t *testing.T) {
	ch := LoopbackExecutor()
	got := make(chan Reply, 1)
	ch.OnReply(func(rep Reply) { got <- rep })

	require.NoError(t, ch.Emit(Request{
		Token:  "t1",
		Event:  "navigate",
		Params: map[string]any{"url": "https://example.com"},
	}))

	select {
	case rep := <-got:
		assert.Equal(t, "t1", rep.Token)
		assert.True(t, rep.Success)
		assert.Equal(t, "https://example.com", rep.Result["url"])
	case <-time.After(time.Second):
		t.Fatal("loopback never replied")
	}
}
