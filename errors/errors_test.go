package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "advance %s", "CE_1")

	assert.Contains(t, wrapped.Error(), "advance CE_1")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
	assert.False(t, Is(nil, original))
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("dequeue failed"), "Batch size: 12")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Batch size: 12", details[0])
}

func TestNotFoundHelpers(t *testing.T) {
	err := NewNotFoundError("campaign execution %s", "CE_42")

	assert.True(t, IsNotFoundError(err))
	assert.True(t, IsNotFoundError(Wrap(err, "lookup")))
	assert.Contains(t, err.Error(), "CE_42")
	assert.False(t, IsNotFoundError(New("campaign execution CE_42")))
	assert.False(t, IsNotFoundError(nil))
}

func TestInvalidRequestHelpers(t *testing.T) {
	err := NewInvalidRequestError("control message targets both %s and %s", "schedule", "schedule execution")

	assert.True(t, IsInvalidRequestError(err))
	assert.False(t, IsConflictError(err))
}

func TestJoinKeepsEachCause(t *testing.T) {
	first := New("first")
	joined := Join(first, ErrConflict)

	assert.True(t, Is(joined, first))
	assert.True(t, IsConflictError(joined))
}
