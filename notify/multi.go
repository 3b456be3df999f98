package notify

import (
	"context"

	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/schedule"
)

// Multi fans one notification out to every dispatcher. All dispatchers
// are attempted even when an earlier one fails, so a broken exec hook
// cannot silence the ntfy delivery.
type Multi []schedule.Dispatcher

var (
	_ schedule.Dispatcher = Multi(nil)
	_ schedule.Dispatcher = (*NtfyClient)(nil)
	_ schedule.Dispatcher = (*ExecHook)(nil)
)

// Send delivers to each dispatcher in order and combines any failures
// into one dispatch error.
func (m Multi) Send(ctx context.Context, topic, title, body string) error {
	var combined error
	for _, d := range m {
		if err := d.Send(ctx, topic, title, body); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	if combined != nil {
		return errors.Mark(combined, errors.ErrDispatchFailed)
	}
	return nil
}
