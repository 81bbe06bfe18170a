package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKStatusHasNilErr(t *testing.T) {
	st := New(OK, "")
	assert.True(t, st.OK())
	assert.Nil(t, st.Err())
}

func TestNonOKStatusRoundTripsThroughError(t *testing.T) {
	st := New(DeadlineExceeded, "timed out waiting for response")
	err := st.Err()
	require.Error(t, err)

	got, ok := FromError(err)
	require.True(t, ok)
	assert.Equal(t, DeadlineExceeded, got.Code)
	assert.Equal(t, "timed out waiting for response", got.Details)
	assert.Equal(t, DeadlineExceeded, CodeOf(err))
}

func TestFromErrorOnForeignErrorIsUnknown(t *testing.T) {
	_, ok := FromError(assertNewPlainError("boom"))
	assert.False(t, ok)
	assert.Equal(t, Unknown, CodeOf(assertNewPlainError("boom")))
}

type plainError struct{ msg string }

func (p *plainError) Error() string { return p.msg }

func assertNewPlainError(msg string) error {
	return &plainError{msg: msg}
}
