package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimGatewayLifecycle(t *testing.T) {
	gw := NewSimGateway(20*time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	id, err := gw.Create(ctx, LaunchSpec{Owner: "u1", InstanceClass: "t3.medium", Region: "us-east-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := gw.DescribeStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.RuntimeState)
	assert.False(t, st.InstanceOK)

	require.NoError(t, gw.WaitForState(ctx, id, StateRunning))
	st, err = gw.DescribeStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.RuntimeState)
	assert.True(t, st.InstanceOK)
	assert.True(t, st.SystemOK)
	assert.NotEmpty(t, st.PublicAddr)
	assert.NotEmpty(t, st.PrivateAddr)

	require.NoError(t, gw.Terminate(ctx, id))
	require.NoError(t, gw.WaitForState(ctx, id, StateTerminated))
}

func TestSimGatewayCreateValidation(t *testing.T) {
	gw := NewSimGateway(0, 0)
	_, err := gw.Create(context.Background(), LaunchSpec{Owner: "u1"})
	assert.Error(t, err)
}

func TestSimGatewayUnknownInstance(t *testing.T) {
	gw := NewSimGateway(0, 0)
	_, err := gw.DescribeStatus(context.Background(), "i-nope")
	assert.Error(t, err)
	assert.Error(t, gw.Terminate(context.Background(), "i-nope"))
}

func TestSimGatewayWaitHonorsContext(t *testing.T) {
	gw := NewSimGateway(time.Hour, 0)
	ctx := context.Background()
	id, err := gw.Create(ctx, LaunchSpec{Owner: "u1", InstanceClass: "t3.medium", Region: "eu-west-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err = gw.WaitForState(ctx, id, StateRunning)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
