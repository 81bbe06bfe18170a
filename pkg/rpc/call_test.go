package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corerpc/corerpc/pkg/status"
)

func TestCancelIsNoOpOnceTerminal(t *testing.T) {
	h := New(context.Background(), "/echo/Echo", "peer:0")
	h.MarkTerminal()
	h.Cancel()
	assert.True(t, h.isTerminal())
	select {
	case <-h.Context().Done():
		t.Fatal("Cancel after MarkTerminal must not cancel the context")
	default:
	}
}

func TestCancelCancelsContext(t *testing.T) {
	h := New(context.Background(), "/echo/Echo", "peer:0")
	h.Cancel()
	require.Error(t, h.Context().Err())
}

func TestCancelWithStatusSetsLocalOverride(t *testing.T) {
	h := New(context.Background(), "/echo/Echo", "peer:0")
	h.CancelWithStatus(status.DeadlineExceeded, "too slow")

	st, ok := h.LocalStatusOverride()
	require.True(t, ok)
	assert.Equal(t, status.DeadlineExceeded, st.Code)
	require.Error(t, h.Context().Err())
}

func TestDeadlineProducesDeadlineExceededCause(t *testing.T) {
	h := New(context.Background(), "/echo/Echo", "peer:0", WithDeadline(time.Now().Add(5*time.Millisecond)))
	<-h.Context().Done()
	assert.Equal(t, status.DeadlineExceeded, status.CodeOf(context.Cause(h.Context())))
}

func TestPropagatedCancelFromParent(t *testing.T) {
	parent := New(context.Background(), "/echo/Parent", "peer:0")
	child := New(context.Background(), "/echo/Child", "peer:0", WithParent(parent), WithPropagateCancel())

	parent.Cancel()
	require.Error(t, child.Context().Err())
}

func TestNonPropagatedChildSurvivesParentCancel(t *testing.T) {
	parent := New(context.Background(), "/echo/Parent", "peer:0")
	child := New(context.Background(), "/echo/Child", "peer:0", WithParent(parent))

	parent.Cancel()
	assert.NoError(t, child.Context().Err())
}
