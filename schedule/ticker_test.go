package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlonk/chime/errors"
	chimetest "github.com/greenlonk/chime/internal/testing"
	"github.com/greenlonk/chime/logger"
)

type dispatchCall struct {
	topic, title, body string
}

// fakeDispatcher records deliveries and can fail per topic or stall to
// exercise the dispatch timeout.
type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	errFor map[string]error
	delay  time.Duration
}

func (d *fakeDispatcher) Send(ctx context.Context, topic, title, body string) error {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{topic, title, body})
	d.mu.Unlock()

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.errFor != nil {
		if err := d.errFor[topic]; err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDispatcher) sent() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

type recordedEvent struct {
	kind   string
	taskID string
	err    error
}

// fakeRecorder collects tick outcomes in order.
type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) RecordExecuted(ctx context.Context, taskID string, firedAt time.Time, duration time.Duration) error {
	r.append("executed", taskID, nil)
	return nil
}

func (r *fakeRecorder) RecordDispatchFailed(ctx context.Context, taskID string, firedAt time.Time, duration time.Duration, dispatchErr error) error {
	r.append("execution_failed", taskID, dispatchErr)
	return nil
}

func (r *fakeRecorder) RecordMisfired(ctx context.Context, taskID string, scheduledFor time.Time, overdue time.Duration) error {
	r.append("misfired", taskID, nil)
	return nil
}

func (r *fakeRecorder) RecordSchedulingError(ctx context.Context, taskID string, schedErr error) error {
	r.append("scheduling_error", taskID, schedErr)
	return nil
}

func (r *fakeRecorder) append(kind, taskID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, taskID, err})
}

func (r *fakeRecorder) byKind(kind string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestTicker(t *testing.T) (*Ticker, *Store, *fakeDispatcher, *fakeRecorder) {
	t.Helper()
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	ticker := NewTicker(store, dispatcher, recorder, DefaultTickerConfig(), logger.Logger)
	t.Cleanup(ticker.cancel)
	return ticker, store, dispatcher, recorder
}

func addDueJob(t *testing.T, store *Store, id, expr string, fireAt time.Time, grace time.Duration) *Job {
	t.Helper()
	seedTask(t, store.db, id)
	job := &Job{
		ID:           id,
		TaskID:       id,
		Expression:   expr,
		Timezone:     "UTC",
		NextFireAt:   &fireAt,
		MisfireGrace: grace,
		Topic:        "topic-" + id,
		Title:        "Title " + id,
		Body:         "Body " + id,
	}
	require.NoError(t, store.Add(context.Background(), job))
	return job
}

// tickAt keeps tick tests deterministic: tick takes its clock as an
// argument, so tests run against fixed instants.
var tickAt = time.Date(2026, 9, 1, 12, 0, 10, 0, time.UTC)

func TestTickDispatchesDueJob(t *testing.T) {
	ticker, store, dispatcher, recorder := newTestTicker(t)

	addDueJob(t, store, "task-due", "* * * * *", tickAt.Add(-10*time.Second), 60*time.Second)

	require.NoError(t, ticker.tick(tickAt))

	calls := dispatcher.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "topic-task-due", calls[0].topic)
	assert.Equal(t, "Title task-due", calls[0].title)
	assert.Equal(t, "Body task-due", calls[0].body)

	executed := recorder.byKind("executed")
	require.Len(t, executed, 1)
	assert.Equal(t, "task-due", executed[0].taskID)

	// Schedule advanced to the next minute boundary after the tick
	got, err := store.Get(context.Background(), "task-due")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.NextFireAt.Equal(time.Date(2026, 9, 1, 12, 1, 0, 0, time.UTC)))

	assert.Equal(t, int64(1), ticker.Stats()["dispatched"])
}

func TestTickWithinGraceStillDispatches(t *testing.T) {
	ticker, store, dispatcher, _ := newTestTicker(t)

	// 30s overdue against a 60s grace window: late but not abandoned
	addDueJob(t, store, "task-late", "* * * * *", tickAt.Add(-30*time.Second), 60*time.Second)

	require.NoError(t, ticker.tick(tickAt))

	require.Len(t, dispatcher.sent(), 1)
	assert.Equal(t, int64(0), ticker.Stats()["misfired"])
}

func TestTickMisfireSkipsDispatchButAdvances(t *testing.T) {
	ticker, store, dispatcher, recorder := newTestTicker(t)

	// 120s overdue against a 60s grace window
	addDueJob(t, store, "task-stale", "* * * * *", tickAt.Add(-120*time.Second), 60*time.Second)

	require.NoError(t, ticker.tick(tickAt))

	assert.Empty(t, dispatcher.sent(), "misfired occurrence must not be delivered late")

	misfires := recorder.byKind("misfired")
	require.Len(t, misfires, 1)
	assert.Equal(t, "task-stale", misfires[0].taskID)
	assert.Empty(t, recorder.byKind("executed"))

	// The schedule still advances to the next occurrence after the tick
	got, err := store.Get(context.Background(), "task-stale")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.NextFireAt.After(tickAt))

	assert.Equal(t, int64(1), ticker.Stats()["misfired"])
	assert.Equal(t, int64(0), ticker.Stats()["dispatched"])
}

func TestTickDispatchFailureStillAdvances(t *testing.T) {
	ticker, store, dispatcher, recorder := newTestTicker(t)

	job := addDueJob(t, store, "task-fail", "* * * * *", tickAt.Add(-5*time.Second), 60*time.Second)
	dispatcher.errFor = map[string]error{job.Topic: errors.Mark(errors.New("ntfy returned 503"), errors.ErrDispatchFailed)}

	require.NoError(t, ticker.tick(tickAt))

	require.Len(t, dispatcher.sent(), 1)

	failures := recorder.byKind("execution_failed")
	require.Len(t, failures, 1)
	assert.Equal(t, "task-fail", failures[0].taskID)
	assert.True(t, errors.IsDispatchFailed(failures[0].err))
	assert.Empty(t, recorder.byKind("executed"))

	got, err := store.Get(context.Background(), "task-fail")
	require.NoError(t, err)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.NextFireAt.After(tickAt), "failed dispatch still advances the schedule")

	assert.Equal(t, int64(1), ticker.Stats()["failed"])
	assert.Equal(t, int64(0), ticker.Stats()["dispatched"])
}

func TestTickIsolatesFailingJobs(t *testing.T) {
	ticker, store, dispatcher, recorder := newTestTicker(t)

	first := addDueJob(t, store, "task-broken", "* * * * *", tickAt.Add(-20*time.Second), 60*time.Second)
	addDueJob(t, store, "task-healthy", "* * * * *", tickAt.Add(-10*time.Second), 60*time.Second)
	dispatcher.errFor = map[string]error{first.Topic: errors.New("connection refused")}

	require.NoError(t, ticker.tick(tickAt))

	// Both jobs were attempted despite the first one failing
	require.Len(t, dispatcher.sent(), 2)

	executed := recorder.byKind("executed")
	require.Len(t, executed, 1)
	assert.Equal(t, "task-healthy", executed[0].taskID)
	require.Len(t, recorder.byKind("execution_failed"), 1)

	// And both advanced
	for _, id := range []string{"task-broken", "task-healthy"} {
		got, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, got.NextFireAt, id)
		assert.True(t, got.NextFireAt.After(tickAt), id)
	}
}

func TestTickUnschedulesInfeasibleTrigger(t *testing.T) {
	ticker, store, dispatcher, recorder := newTestTicker(t)

	// February 30th never exists; the due fire still dispatches, then
	// the advance fails and unschedules the job.
	addDueJob(t, store, "task-feb30", "0 0 30 2 *", tickAt.Add(-5*time.Second), 60*time.Second)

	require.NoError(t, ticker.tick(tickAt))

	require.Len(t, dispatcher.sent(), 1)

	schedErrs := recorder.byKind("scheduling_error")
	require.Len(t, schedErrs, 1)
	assert.Equal(t, "task-feb30", schedErrs[0].taskID)
	assert.True(t, errors.IsNoFeasibleTime(schedErrs[0].err))

	got, err := store.Get(context.Background(), "task-feb30")
	require.NoError(t, err)
	assert.Nil(t, got, "unschedulable job must be removed")
}

func TestTickUnschedulesCorruptExpression(t *testing.T) {
	ticker, store, _, recorder := newTestTicker(t)

	// The store does not validate expressions; a corrupt row must be
	// unscheduled at tick time instead of wedging the loop.
	addDueJob(t, store, "task-corrupt", "every other tuesday", tickAt.Add(-5*time.Second), 60*time.Second)

	require.NoError(t, ticker.tick(tickAt))

	require.Len(t, recorder.byKind("scheduling_error"), 1)

	got, err := store.Get(context.Background(), "task-corrupt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTickDispatchTimeout(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	dispatcher := &fakeDispatcher{delay: 200 * time.Millisecond}
	recorder := &fakeRecorder{}
	cfg := TickerConfig{Interval: time.Second, DispatchTimeout: 20 * time.Millisecond}
	ticker := NewTicker(store, dispatcher, recorder, cfg, logger.Logger)
	t.Cleanup(ticker.cancel)

	addDueJob(t, store, "task-slow", "* * * * *", tickAt.Add(-5*time.Second), 60*time.Second)

	require.NoError(t, ticker.tick(tickAt))

	// The stalled delivery was cut off and counted as a failure, and
	// the job still advanced.
	require.Len(t, recorder.byKind("execution_failed"), 1)
	got, err := store.Get(context.Background(), "task-slow")
	require.NoError(t, err)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.NextFireAt.After(tickAt))
}

type blockingDispatcher struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) Send(ctx context.Context, topic, title, body string) error {
	close(d.entered)
	<-d.release
	return nil
}

func TestDeleteDuringDispatchDoesNotResurrect(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	dispatcher := &blockingDispatcher{entered: make(chan struct{}), release: make(chan struct{})}
	recorder := &fakeRecorder{}
	ticker := NewTicker(store, dispatcher, recorder, DefaultTickerConfig(), logger.Logger)
	t.Cleanup(ticker.cancel)

	job := addDueJob(t, store, "task-race", "* * * * *", tickAt.Add(-5*time.Second), 60*time.Second)

	done := make(chan error, 1)
	go func() {
		done <- ticker.fire(job, tickAt)
	}()

	// Delete the job while its dispatch is in flight
	<-dispatcher.entered
	require.NoError(t, store.Remove(context.Background(), job.ID))
	close(dispatcher.release)

	require.NoError(t, <-done)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "post-dispatch advance must not resurrect a deleted job")
}

func TestRestartTickDispatchesExactlyOnce(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}

	fireAt := tickAt.Add(-2 * time.Second)
	addDueJob(t, NewStore(db), "task-durable", "* * * * *", fireAt, 60*time.Second)

	// Fresh store and ticker over the persisted state, as after a
	// process restart
	store := NewStore(db)
	ticker := NewTicker(store, dispatcher, recorder, DefaultTickerConfig(), logger.Logger)
	t.Cleanup(ticker.cancel)

	require.NoError(t, ticker.tick(tickAt))
	require.NoError(t, ticker.tick(tickAt.Add(time.Second)))

	assert.Len(t, dispatcher.sent(), 1, "one persisted window fires exactly once")
	assert.Len(t, recorder.byKind("executed"), 1)
}

func TestTickAbortsWhenStoreUnavailable(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	ticker := NewTicker(store, &fakeDispatcher{}, &fakeRecorder{}, DefaultTickerConfig(), logger.Logger)
	t.Cleanup(ticker.cancel)

	require.NoError(t, db.Close())

	err := ticker.tick(time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))
}

func TestTickerStartStop(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	cfg := TickerConfig{Interval: 20 * time.Millisecond, DispatchTimeout: time.Second}
	ticker := NewTicker(store, &fakeDispatcher{}, &fakeRecorder{}, cfg, logger.Logger)

	ticker.Start()
	time.Sleep(150 * time.Millisecond)
	ticker.Stop()

	stats := ticker.Stats()
	assert.False(t, stats["last_tick_at"].(time.Time).IsZero())
	ticksAfterStop := stats["ticks_since_start"].(int64)
	assert.Greater(t, ticksAfterStop, int64(0))

	// No further ticks once stopped
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, ticksAfterStop, ticker.Stats()["ticks_since_start"].(int64))
}

func TestTickerFiresWhileRunning(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	cfg := TickerConfig{Interval: 20 * time.Millisecond, DispatchTimeout: time.Second}
	ticker := NewTicker(store, dispatcher, recorder, cfg, logger.Logger)

	// A yearly expression cannot come due a second time mid-test, so
	// exactly one dispatch is expected no matter how long this runs.
	addDueJob(t, store, "task-live", "0 0 1 1 *", time.Now().UTC().Add(-5*time.Second), 60*time.Second)

	ticker.Start()
	time.Sleep(200 * time.Millisecond)
	ticker.Stop()

	assert.Len(t, dispatcher.sent(), 1)
	assert.Len(t, recorder.byKind("executed"), 1)

	got, err := store.Get(context.Background(), "task-live")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.NextFireAt)
	assert.True(t, got.NextFireAt.After(time.Now().UTC()))
}

func TestTickerWithContextCancellation(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	cfg := TickerConfig{Interval: 20 * time.Millisecond, DispatchTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := NewTickerWithContext(ctx, store, &fakeDispatcher{}, &fakeRecorder{}, cfg, logger.Logger)

	ticker.Start()
	time.Sleep(50 * time.Millisecond)

	cancel()
	ticker.wg.Wait()

	// Should not panic
	stats := ticker.Stats()
	assert.NotNil(t, stats)
}

func TestTickerStats(t *testing.T) {
	ticker, _, _, _ := newTestTicker(t)

	stats := ticker.Stats()
	assert.Equal(t, int64(0), stats["ticks_since_start"])
	assert.Equal(t, int64(0), stats["dispatched"])
	assert.Equal(t, int64(0), stats["misfired"])
	assert.Equal(t, int64(0), stats["failed"])
	assert.Equal(t, 1*time.Second, stats["interval"])
}
