package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := NotFound("instance %s not found", "i-123")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindTimeout))
	assert.Contains(t, err.Error(), "i-123")
}

func TestKindOfWrapped(t *testing.T) {
	inner := Provider(errors.New("quota exceeded"), "create instance")
	outer := fmt.Errorf("launch: %w", inner)

	assert.Equal(t, KindProviderError, KindOf(outer))
	require.ErrorContains(t, outer, "quota exceeded")
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindChannelUnavailable, cause, "emit navigate")
	assert.ErrorIs(t, err, cause)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsMatchesByKind(t *testing.T) {
	a := Timeout("command %s timed out", "c1")
	b := Timeout("command %s timed out", "c2")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, NotFound("x")))
}
