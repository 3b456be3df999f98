package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/greenlonk/chime/cron"
	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/logger"
)

// Ticker is the scheduler core: a single authoritative loop that polls
// the job store, dispatches due notifications, applies misfire policy,
// and advances fire times.
//
// Due jobs are processed in isolation; one job's failure never blocks
// the rest of the tick. A store outage aborts the current cycle only,
// and the next tick retries.
type Ticker struct {
	store           *Store
	dispatcher      Dispatcher
	recorder        ExecutionRecorder
	interval        time.Duration
	dispatchTimeout time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	log             *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	dispatched      int64
	misfired        int64
	failed          int64
	lastUpcoming    string // change detection for the upcoming-fire log line
}

// TickerConfig contains configuration for the scheduler loop.
type TickerConfig struct {
	Interval        time.Duration // how often to scan for due jobs (default: 1 second)
	DispatchTimeout time.Duration // upper bound on one delivery attempt (default: 10 seconds)
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:        1 * time.Second,
		DispatchTimeout: 10 * time.Second,
	}
}

// NewTicker creates a scheduler loop over the given store.
func NewTicker(store *Store, dispatcher Dispatcher, recorder ExecutionRecorder, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, dispatcher, recorder, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context.
func NewTickerWithContext(ctx context.Context, store *Store, dispatcher Dispatcher, recorder ExecutionRecorder, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:           store,
		dispatcher:      dispatcher,
		recorder:        recorder,
		interval:        cfg.Interval,
		dispatchTimeout: cfg.DispatchTimeout,
		ctx:             tickerCtx,
		cancel:          cancel,
		log:             log,
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Scheduler started", "interval", t.interval)
}

// Stop gracefully stops the ticker. New ticks stop immediately; an
// in-flight dispatch finishes, bounded by its timeout.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Scheduler stopped")
}

// run is the main ticker loop.
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			t.logUpcoming(tickTime)

			if err := t.tick(tickTime); err != nil {
				// Store outage or shutdown: drop this cycle, retry next tick.
				t.log.Warnw("Tick aborted", logger.FieldError, err, logger.FieldTick, tick)
			}
		}
	}
}

// tick scans for due jobs and processes each in isolation.
func (t *Ticker) tick(now time.Time) error {
	jobs, err := t.store.ListDue(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due jobs")
	}

	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		// Check for shutdown before picking up the next job
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fire(job, now); err != nil {
			t.log.Errorw("Failed to process due job",
				logger.FieldJobID, job.ID,
				logger.FieldTaskID, job.TaskID,
				logger.FieldError, err)
			continue
		}
	}

	return nil
}

// fire handles one due job: misfire check, dispatch, advance.
func (t *Ticker) fire(job *Job, now time.Time) error {
	scheduledFor := *job.NextFireAt // the due scan only returns scheduled jobs

	overdue := now.Sub(scheduledFor)
	if overdue > job.MisfireGrace {
		// Too stale to fire. The occurrence is abandoned rather than
		// delivered late; the schedule still advances.
		t.log.Warnw("Notification misfired",
			logger.FieldJobID, job.ID,
			logger.FieldTaskID, job.TaskID,
			logger.FieldTopic, job.Topic,
			logger.FieldNextFire, scheduledFor.Format(time.RFC3339),
			logger.FieldOverdueSec, int64(overdue.Seconds()))

		t.mu.Lock()
		t.misfired++
		t.mu.Unlock()

		if err := t.recorder.RecordMisfired(context.Background(), job.TaskID, scheduledFor, overdue); err != nil {
			t.log.Errorw("Failed to record misfire",
				logger.FieldTaskID, job.TaskID,
				logger.FieldError, err)
		}

		return t.advance(job, scheduledFor, now)
	}

	// Dispatch on its own context: shutdown stops new ticks, but an
	// in-flight delivery runs to completion, bounded by the timeout.
	dispatchCtx, cancel := context.WithTimeout(context.Background(), t.dispatchTimeout)
	defer cancel()

	start := time.Now()
	err := t.dispatcher.Send(dispatchCtx, job.Topic, job.Title, job.Body)
	duration := time.Since(start)

	if err != nil {
		t.mu.Lock()
		t.failed++
		t.mu.Unlock()

		t.log.Errorw("Dispatch FAILED",
			logger.FieldJobID, job.ID,
			logger.FieldTaskID, job.TaskID,
			logger.FieldTopic, job.Topic,
			logger.FieldDurationMS, duration.Milliseconds(),
			logger.FieldError, err)

		if recErr := t.recorder.RecordDispatchFailed(context.Background(), job.TaskID, scheduledFor, duration, err); recErr != nil {
			t.log.Errorw("Failed to record dispatch failure",
				logger.FieldTaskID, job.TaskID,
				logger.FieldError, recErr)
		}
	} else {
		t.mu.Lock()
		t.dispatched++
		t.mu.Unlock()

		t.log.Infow("Dispatch OK",
			logger.FieldJobID, job.ID,
			logger.FieldTaskID, job.TaskID,
			logger.FieldTopic, job.Topic,
			logger.FieldDurationMS, duration.Milliseconds())

		if recErr := t.recorder.RecordExecuted(context.Background(), job.TaskID, scheduledFor, duration); recErr != nil {
			t.log.Errorw("Failed to record execution",
				logger.FieldTaskID, job.TaskID,
				logger.FieldError, recErr)
		}
	}

	// A failed dispatch still advances: delivery is at-least-once with
	// bounded misfire tolerance, never retried within an occurrence.
	return t.advance(job, scheduledFor, now)
}

// advance computes the next occurrence after max(now, scheduledFor) and
// persists it, keyed on the fire time this tick consumed so a job
// deleted or rescheduled mid-dispatch is left alone.
//
// Store writes here run on a background context: once a fire has been
// consumed, its advance must land even when shutdown has begun.
func (t *Ticker) advance(job *Job, scheduledFor, now time.Time) error {
	ref := now
	if scheduledFor.After(now) {
		ref = scheduledFor
	}

	next, err := t.nextFire(job, ref)
	if err != nil {
		// Unsatisfiable or corrupt trigger: unschedule. The owning task
		// stays pending but unscheduled, repairable via reschedule.
		t.log.Warnw("Unscheduling job with no feasible next fire",
			logger.FieldJobID, job.ID,
			logger.FieldTaskID, job.TaskID,
			logger.FieldCron, job.Expression,
			logger.FieldTimezone, job.Timezone,
			logger.FieldError, err)

		if rmErr := t.store.Remove(context.Background(), job.ID); rmErr != nil {
			return errors.Wrapf(rmErr, "failed to remove unschedulable job %s", job.ID)
		}
		if recErr := t.recorder.RecordSchedulingError(context.Background(), job.TaskID, err); recErr != nil {
			t.log.Errorw("Failed to record scheduling error",
				logger.FieldTaskID, job.TaskID,
				logger.FieldError, recErr)
		}
		return nil
	}

	if err := t.store.AdvanceNextFire(context.Background(), job.ID, scheduledFor, next); err != nil {
		return errors.Wrapf(err, "failed to advance job %s", job.ID)
	}

	t.log.Debugw("Job advanced",
		logger.FieldJobID, job.ID,
		logger.FieldNextFire, next.Format(time.RFC3339))

	return nil
}

// nextFire evaluates the job's stored trigger against ref.
func (t *Ticker) nextFire(job *Job, ref time.Time) (time.Time, error) {
	spec, err := cron.Parse(job.Expression)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "unknown timezone %q", job.Timezone)
	}
	return spec.Next(ref, loc)
}

// logUpcoming reports the next scheduled fire. It runs every tick, so
// it only writes when the upcoming job or its fire time changes.
func (t *Ticker) logUpcoming(now time.Time) {
	next, err := t.store.NextScheduled(t.ctx)
	if err != nil {
		t.log.Warnw("Failed to look up next scheduled fire", logger.FieldError, err)
		return
	}

	key := "none"
	if next != nil && next.NextFireAt != nil {
		key = next.ID + "@" + next.NextFireAt.Format(time.RFC3339)
	}

	t.mu.Lock()
	changed := key != t.lastUpcoming
	t.lastUpcoming = key
	t.mu.Unlock()

	if !changed {
		return
	}

	if next == nil || next.NextFireAt == nil {
		t.log.Infow("No scheduled notifications")
		return
	}

	timeUntil := next.NextFireAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}

	t.log.Infow(fmt.Sprintf("Next notification %q in %s", next.Title, timeUntil.Round(time.Second)),
		logger.FieldJobID, next.ID,
		logger.FieldTopic, next.Topic,
		logger.FieldNextFire, next.NextFireAt.Format(time.RFC3339))
}

// Stats returns scheduler loop statistics.
func (t *Ticker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
		"dispatched":        t.dispatched,
		"misfired":          t.misfired,
		"failed":            t.failed,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_used_gb"] = float64(vm.Used) / (1024 * 1024 * 1024)
		stats["memory_total_gb"] = float64(vm.Total) / (1024 * 1024 * 1024)
		stats["memory_percent"] = vm.UsedPercent
	}

	return stats
}
