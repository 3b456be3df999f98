package notify

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/logger"
)

// ExecHook runs a configured command for each fired notification,
// passing the payload through CHIME_TOPIC, CHIME_TITLE, and CHIME_BODY
// environment variables. The command string is split with shell quoting
// rules but is not run through a shell.
type ExecHook struct {
	command string
	log     *zap.SugaredLogger
}

// NewExecHook creates a hook for the given command line.
func NewExecHook(command string) *ExecHook {
	return &ExecHook{
		command: command,
		log:     logger.ComponentLogger("exec"),
	}
}

// Send runs the hook once. The command inherits the process environment
// plus the notification payload, and is killed when ctx expires. A
// non-zero exit reports as a failed dispatch with the command's output
// attached.
func (h *ExecHook) Send(ctx context.Context, topic, title, body string) error {
	words, err := shellquote.Split(h.command)
	if err != nil {
		return dispatchErr(err, "invalid exec command %q", h.command)
	}
	if len(words) == 0 {
		return dispatchErr(errors.New("empty command"), "invalid exec command")
	}

	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	cmd.Env = append(os.Environ(),
		"CHIME_TOPIC="+topic,
		"CHIME_TITLE="+title,
		"CHIME_BODY="+body,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		output := strings.TrimSpace(string(out))
		if output != "" {
			err = errors.Wrapf(err, "output: %s", output)
		}
		return dispatchErr(err, "exec hook %q failed", words[0])
	}

	h.log.Debugw("Exec hook ran",
		logger.FieldTopic, topic,
		"command", words[0],
	)
	return nil
}
