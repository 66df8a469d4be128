package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the engine's run state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Progress receives (done, total) after every executed non-control task.
type Progress func(done, total int)

// Engine interprets a task sequence: it resolves loop structure, evaluates
// per-task conditions, dispatches actions with retry/timeout policy, and
// aggregates run statistics. One run at a time per instance; cancellation is
// cooperative via the context passed to Run and via Stop.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	vars     *Variables
	eval     *Evaluator
	dispatch *Dispatcher
	device   DeviceTransport

	running atomic.Bool

	mu            sync.Mutex
	tasks         []Task
	status        Status
	runID         string
	runStart      time.Time
	runEnd        time.Time
	lastSuccess   time.Time
	successCounts map[string]int
	progressDone  int
	progressTotal int
}

func New(cfg Config, device DeviceTransport, vision VisionBackend, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	vars := NewVariables(log)
	return &Engine{
		cfg:           cfg,
		log:           log,
		vars:          vars,
		eval:          NewEvaluator(vars, log),
		dispatch:      NewDispatcher(cfg, device, vision, vars, log),
		device:        device,
		status:        StatusIdle,
		successCounts: make(map[string]int),
	}
}

// Load replaces the task sequence. Rejected while a run is active; the
// sequence is owned by the run between Run entry and exit.
func (e *Engine) Load(tasks []Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning {
		return fmt.Errorf("cannot load tasks while a run is active")
	}
	for i := range tasks {
		if err := validate.Struct(&tasks[i]); err != nil {
			return fmt.Errorf("task %d (%s): %w", i, tasks[i].Label(), err)
		}
	}
	e.tasks = append([]Task(nil), tasks...)
	return nil
}

// Stop requests a cooperative stop. The in-flight action completes first;
// the run acknowledges the stop at the next loop iteration or retry attempt.
func (e *Engine) Stop() {
	e.running.Store(false)
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ProgressState returns the last reported (done, total) pair.
func (e *Engine) ProgressState() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressDone, e.progressTotal
}

// Vars returns a snapshot of the variable store.
func (e *Engine) Vars() map[string]any {
	return e.vars.Snapshot()
}

// RunID returns the identifier of the current or most recent run.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Run executes the loaded sequence to completion. It returns nil when the
// sequence completed or the run was stopped, and the triggering error when
// the run failed. ctx is the cancellation token; it is polled once per loop
// iteration and once per retry attempt, never preemptively.
func (e *Engine) Run(ctx context.Context, progress Progress) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.status == StatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("a run is already in progress")
	}
	tasks := e.tasks
	e.status = StatusRunning
	e.runID = uuid.New().String()
	e.runStart = time.Now()
	e.runEnd = time.Time{}
	e.lastSuccess = time.Time{}
	e.successCounts = make(map[string]int)
	e.progressDone = 0
	e.progressTotal = len(tasks)
	e.mu.Unlock()
	e.vars.Reset()
	e.running.Store(true)

	final, err := e.runLoop(ctx, tasks, progress)

	e.mu.Lock()
	e.status = final
	e.runEnd = time.Now()
	e.mu.Unlock()
	e.running.Store(false)

	if err != nil {
		e.log.Error("run failed", "run_id", e.RunID(), "error", err)
		return err
	}
	e.log.Info("run finished", "run_id", e.RunID(), "status", string(final))
	return nil
}

func (e *Engine) runLoop(ctx context.Context, tasks []Task, progress Progress) (Status, error) {
	if e.cfg.DeviceID != "" && e.device != nil {
		if err := e.device.Connect(ctx, e.cfg.DeviceID); err != nil {
			return StatusFailed, fmt.Errorf("connecting device %q: %w", e.cfg.DeviceID, err)
		}
	}

	jm, err := BuildJumpMap(tasks)
	if err != nil {
		return StatusFailed, err
	}

	total := len(tasks)
	i := 0
	for i < total {
		if e.stopRequested(ctx) {
			e.log.Info("run stopped by caller")
			return StatusStopped, nil
		}

		t := &tasks[i]
		switch t.Type {
		case TypeLoop:
			// A false entry condition skips the whole loop body.
			if t.PreCondition != "" && !e.eval.Condition(t.PreCondition) {
				i = jm[i] + 1
				continue
			}
		case TypeEndLoop:
			// Without a condition, or while it holds false, re-enter the body.
			if t.PreCondition == "" || !e.eval.Condition(t.PreCondition) {
				i = jm[i] + 1
				continue
			}
			e.taskLog(t, "loop exit condition met", "condition", t.PreCondition)
			i++
			continue
		default:
			if err := e.executeTask(ctx, t); err != nil {
				if t.ContinueOnFail {
					e.log.Warn("task failed but continue_on_fail is set",
						"task", t.Label(),
						"error", err)
				} else {
					return StatusFailed, err
				}
			}
			if progress != nil {
				progress(i+1, total)
			}
			e.mu.Lock()
			e.progressDone = i + 1
			e.mu.Unlock()
		}

		e.sleep(e.cfg.TaskDelay)
		i++
	}

	return StatusCompleted, nil
}

// executeTask wraps a single task's action with the retry/timeout policy.
//
// Blocking tasks (wait_for_success) retry until success, stop, or their own
// explicit deadline; they never consume the retry budget. Non-blocking tasks
// get the engine's default deadline when they declare none, and fail after
// the retry budget is exhausted.
func (e *Engine) executeTask(ctx context.Context, t *Task) error {
	if t.PreCondition != "" && !e.eval.Condition(t.PreCondition) {
		e.taskLog(t, "skipped: pre-condition not met", "condition", t.PreCondition)
		return nil
	}

	retries := t.Retries
	if retries <= 0 {
		retries = e.cfg.RetryCount
	}

	var limit float64
	if t.WaitForSuccess {
		limit = t.Timeout // zero means unbounded
	} else {
		limit = t.Timeout
		if limit <= 0 {
			limit = e.cfg.Timeout
		}
	}
	var deadline time.Time
	if limit > 0 {
		deadline = time.Now().Add(time.Duration(limit * float64(time.Second)))
	}

	attempt := 0
	for {
		if e.stopRequested(ctx) {
			e.taskLog(t, "task aborted: stop requested")
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return &TimeoutError{Description: t.Label(), Limit: limit}
		}

		attempt++
		err := e.attempt(ctx, t)
		if err == nil {
			e.recordSuccess(t)
			return nil
		}

		if !t.WaitForSuccess {
			if attempt >= retries {
				var onFailErr error
				if t.OnFailAction != "" {
					e.taskLog(t, "retries exhausted, running on_fail_action", "action", t.OnFailAction)
					onFailErr = e.eval.Apply(t.OnFailAction)
				}
				return &TaskFailure{
					Description: t.Label(),
					Attempts:    attempt,
					Err:         err,
					OnFailErr:   onFailErr,
				}
			}
			e.taskLog(t, "attempt failed",
				"remaining_retries", retries-attempt,
				"error", err)
		} else {
			e.taskLog(t, "blocking task attempt failed, will retry",
				"retry_in_s", e.cfg.RetryInterval,
				"error", err)
		}

		e.sleep(e.cfg.RetryInterval)
	}
}

// attempt performs one dispatch plus the post_action. A failed post_action
// fails the attempt; it is not silently ignored.
func (e *Engine) attempt(ctx context.Context, t *Task) error {
	if err := e.dispatch.Run(ctx, t); err != nil {
		return err
	}
	if t.PostAction != "" {
		if err := e.eval.Apply(t.PostAction); err != nil {
			return fmt.Errorf("post_action failed: %w", err)
		}
	}
	return nil
}

// recordSuccess is the success hook: for timed tasks it bumps the
// per-description counter and logs the interval since the previous success.
func (e *Engine) recordSuccess(t *Task) {
	if !t.EnableTimer {
		return
	}
	desc := t.Label()
	now := time.Now()

	e.mu.Lock()
	e.successCounts[desc]++
	last := e.lastSuccess
	e.lastSuccess = now
	e.mu.Unlock()

	if !last.IsZero() {
		e.log.Info(fmt.Sprintf("timer: task '%s' succeeded %.2fs after the previous success", desc, now.Sub(last).Seconds()))
	} else {
		e.log.Info(fmt.Sprintf("timer: task '%s' started the interval timer", desc))
	}
}

// Summary renders the run statistics: total elapsed time and success counts
// per task description.
func (e *Engine) Summary() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runStart.IsZero() {
		return "no run recorded yet"
	}
	end := e.runEnd
	if end.IsZero() {
		end = time.Now()
	}

	var b strings.Builder
	b.WriteString("--- run summary ---\n")
	fmt.Fprintf(&b, "total elapsed: %.2fs\n", end.Sub(e.runStart).Seconds())

	if len(e.successCounts) == 0 {
		b.WriteString("no timed task succeeded\n")
	} else {
		b.WriteString("successes per task:\n")
		descs := make([]string, 0, len(e.successCounts))
		for desc := range e.successCounts {
			descs = append(descs, desc)
		}
		sort.Strings(descs)
		for _, desc := range descs {
			fmt.Fprintf(&b, "  - %s: %d\n", desc, e.successCounts[desc])
		}
	}
	b.WriteString("-------------------")
	return b.String()
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return ctx.Err() != nil || !e.running.Load()
}

func (e *Engine) sleep(seconds float64) {
	if seconds > 0 {
		time.Sleep(time.Duration(seconds * float64(time.Second)))
	}
}

// taskLog emits a task-scoped log line, honoring the task's print_log flag.
func (e *Engine) taskLog(t *Task, msg string, args ...any) {
	if t == nil {
		e.log.Info(msg, args...)
		return
	}
	if t.PrintLog {
		e.log.Info(msg, append([]any{"task", t.Label()}, args...)...)
	}
}
