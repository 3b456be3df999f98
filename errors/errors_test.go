package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestIs(t *testing.T) {
	err1 := New("error 1")
	err2 := New("error 2")
	wrapped := Wrap(err1, "wrapped")

	assert.True(t, Is(wrapped, err1))
	assert.False(t, Is(wrapped, err2))
	assert.False(t, Is(nil, err1))
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

func TestAs(t *testing.T) {
	original := &customError{msg: "custom"}
	wrapped := Wrap(original, "wrapped")

	var target *customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.msg)
}

func TestWithHint(t *testing.T) {
	err := New("error")
	withHint := WithHint(err, "try this fix")

	hints := GetAllHints(withHint)
	require.Len(t, hints, 1)
	assert.Equal(t, "try this fix", hints[0])
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	// Format with stack trace
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, MarkInvalidSchedule(nil))
	assert.Nil(t, WrapStoreUnavailable(nil, "context"))
}

func TestScheduleTaxonomy(t *testing.T) {
	t.Run("invalid schedule survives wrapping", func(t *testing.T) {
		parseErr := Newf("field %q out of range", "61")
		err := Wrap(MarkInvalidSchedule(parseErr), "creating task")

		assert.True(t, IsInvalidSchedule(err))
		assert.False(t, IsNoFeasibleTime(err))
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("no feasible time is distinct from invalid schedule", func(t *testing.T) {
		err := Wrapf(ErrNoFeasibleTime, "no match within 4 years")

		assert.True(t, IsNoFeasibleTime(err))
		assert.False(t, IsInvalidSchedule(err))
	})

	t.Run("dispatch failure", func(t *testing.T) {
		err := Wrap(ErrDispatchFailed, "ntfy returned status 503")
		assert.True(t, IsDispatchFailed(err))
	})

	t.Run("store unavailable marks the driver error", func(t *testing.T) {
		driverErr := New("database is locked")
		err := WrapStoreUnavailable(driverErr, "listing due jobs")

		assert.True(t, IsStoreUnavailable(err))
		assert.True(t, Is(err, driverErr))
		assert.Contains(t, err.Error(), "listing due jobs")
	})

	t.Run("conflict", func(t *testing.T) {
		err := NewConflictError("task %s is not pending", "abc")
		assert.True(t, IsConflict(err))
		assert.Contains(t, err.Error(), "abc")
	})
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.True(t, IsNotFoundError(ErrNotFound))
	assert.True(t, IsNotFoundError(Wrap(ErrNotFound, "task lookup")))
	assert.True(t, IsNotFoundError(NewNotFoundError("task %s", "abc")))

	// String fallback for driver errors is keyed on the message suffix
	assert.True(t, IsNotFoundError(New("row not found")))
	assert.False(t, IsNotFoundError(New("some other failure")))
}

func ExampleWrap() {
	baseErr := New("connection failed")
	err := Wrap(baseErr, "failed to open job store")
	fmt.Println(err)
	// Output: failed to open job store: connection failed
}
