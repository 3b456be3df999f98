package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlonk/chime/errors"
)

func TestExecHookPassesPayload(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "payload")
	command := fmt.Sprintf(
		`sh -c 'printf "%%s|%%s|%%s" "$CHIME_TOPIC" "$CHIME_TITLE" "$CHIME_BODY" > %s'`,
		outPath,
	)

	hook := NewExecHook(command)
	err := hook.Send(context.Background(), "chores", "Water the plants", "Now")
	require.NoError(t, err)

	payload, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "chores|Water the plants|Now", string(payload))
}

func TestExecHookFailureCapturesOutput(t *testing.T) {
	hook := NewExecHook(`sh -c 'echo boom >&2; exit 3'`)

	err := hook.Send(context.Background(), "chores", "t", "b")
	require.Error(t, err)
	assert.True(t, errors.IsDispatchFailed(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestExecHookKilledByDeadline(t *testing.T) {
	hook := NewExecHook("sleep 5")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := hook.Send(ctx, "chores", "t", "b")
	require.Error(t, err)
	assert.True(t, errors.IsDispatchFailed(err))
}

func TestExecHookRejectsBadQuoting(t *testing.T) {
	hook := NewExecHook(`sh -c 'unterminated`)

	err := hook.Send(context.Background(), "chores", "t", "b")
	require.Error(t, err)
	assert.True(t, errors.IsDispatchFailed(err))
}

func TestExecHookRejectsEmptyCommand(t *testing.T) {
	hook := NewExecHook("")

	err := hook.Send(context.Background(), "chores", "t", "b")
	require.Error(t, err)
}
