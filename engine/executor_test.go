package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestEngine(dev *fakeDevice, vis *fakeVision) *Engine {
	cfg := DefaultConfig()
	cfg.TaskDelay = 0
	cfg.RetryInterval = 0
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, dev, vis, log)
}

func mustLoad(t *testing.T, e *Engine, tasks []Task) {
	t.Helper()
	if err := e.Load(tasks); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func click(x, y int) Task {
	return Task{Type: TypeClick, Params: map[string]any{"x": x, "y": y}}
}

func TestRun_CountedLoop(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestEngine(dev, &fakeVision{})

	body := click(1, 1)
	body.PostAction = "i = i + 1"
	mustLoad(t, e, []Task{
		{Type: TypeSetVariable, Params: map[string]any{"name": "i", "value": 0}},
		{Type: TypeLoop},
		body,
		{Type: TypeEndLoop, PreCondition: "i >= 3"},
	})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(dev.taps) != 3 {
		t.Errorf("loop body ran %d times, want 3", len(dev.taps))
	}
	if got := e.Status(); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
	if got := e.Vars()["i"]; got != 3 {
		t.Errorf("i = %v, want 3", got)
	}
}

func TestRun_LoopEntryConditionFalseSkipsBody(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestEngine(dev, &fakeVision{})

	mustLoad(t, e, []Task{
		{Type: TypeLoop, PreCondition: "1 = 2"},
		click(1, 1),
		{Type: TypeEndLoop, PreCondition: "1 = 1"},
		click(9, 9),
	})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dev.taps) != 1 || dev.taps[0] != (Point{X: 9, Y: 9}) {
		t.Errorf("taps = %v, want only the task after the loop", dev.taps)
	}
}

func TestRun_RetryExhaustionRunsOnFailAction(t *testing.T) {
	dev := &fakeDevice{tapFn: func(x, y int) error { return fmt.Errorf("screen locked") }}
	e := newTestEngine(dev, &fakeVision{})

	task := click(1, 1)
	task.Description = "tap start"
	task.Retries = 3
	task.OnFailAction = "gave_up = 1"
	mustLoad(t, e, []Task{task})

	err := e.Run(context.Background(), nil)
	var tf *TaskFailure
	if !errors.As(err, &tf) {
		t.Fatalf("got %v, want TaskFailure", err)
	}
	if tf.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", tf.Attempts)
	}
	if len(dev.taps) != 3 {
		t.Errorf("device saw %d taps, want 3", len(dev.taps))
	}
	if got := e.Vars()["gave_up"]; got != 1 {
		t.Errorf("gave_up = %v, want 1 from on_fail_action", got)
	}
	if got := e.Status(); got != StatusFailed {
		t.Errorf("status = %s, want %s", got, StatusFailed)
	}
}

func TestRun_ContinueOnFailKeepsGoing(t *testing.T) {
	dev := &fakeDevice{tapFn: func(x, y int) error {
		if x == 1 {
			return fmt.Errorf("screen locked")
		}
		return nil
	}}
	e := newTestEngine(dev, &fakeVision{})

	failing := click(1, 1)
	failing.Retries = 2
	failing.ContinueOnFail = true
	mustLoad(t, e, []Task{failing, click(2, 2)})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.Status(); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
	last := dev.taps[len(dev.taps)-1]
	if last != (Point{X: 2, Y: 2}) {
		t.Errorf("last tap = %v, want the follow-up task", last)
	}
}

func TestRun_BlockingTaskTimesOut(t *testing.T) {
	dev := &fakeDevice{tapFn: func(x, y int) error { return fmt.Errorf("not there yet") }}
	e := newTestEngine(dev, &fakeVision{})

	task := click(1, 1)
	task.WaitForSuccess = true
	task.Timeout = 0.05
	mustLoad(t, e, []Task{task})

	err := e.Run(context.Background(), nil)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TimeoutError", err)
	}
	if te.Limit != 0.05 {
		t.Errorf("limit = %g, want 0.05", te.Limit)
	}
	// A blocking task never consumes the retry budget, so the device saw far
	// more than RetryCount attempts before the deadline.
	if len(dev.taps) <= 3 {
		t.Errorf("device saw %d attempts, want more than the retry budget", len(dev.taps))
	}
}

func TestRun_BlockingTaskRetriesUntilSuccess(t *testing.T) {
	calls := 0
	dev := &fakeDevice{tapFn: func(x, y int) error {
		calls++
		if calls < 10 {
			return fmt.Errorf("not there yet")
		}
		return nil
	}}
	e := newTestEngine(dev, &fakeVision{})

	task := click(1, 1)
	task.WaitForSuccess = true
	mustLoad(t, e, []Task{task})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 10 {
		t.Errorf("succeeded after %d attempts, want 10", calls)
	}
}

func TestRun_PreConditionSkipsTask(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestEngine(dev, &fakeVision{})

	task := click(1, 1)
	task.PreCondition = "1 = 2"
	mustLoad(t, e, []Task{task})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dev.taps) != 0 {
		t.Errorf("skipped task still tapped: %v", dev.taps)
	}
}

func TestRun_CancelledContextStopsRun(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestEngine(dev, &fakeVision{})
	mustLoad(t, e, []Task{click(1, 1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Run(ctx, nil); err != nil {
		t.Fatalf("Run: %v, want nil for a stopped run", err)
	}
	if got := e.Status(); got != StatusStopped {
		t.Errorf("status = %s, want %s", got, StatusStopped)
	}
	if len(dev.taps) != 0 {
		t.Errorf("tapped after cancellation: %v", dev.taps)
	}
}

func TestEngine_StopInterruptsBlockingTask(t *testing.T) {
	dev := &fakeDevice{tapFn: func(x, y int) error { return fmt.Errorf("never") }}
	e := newTestEngine(dev, &fakeVision{})

	task := click(1, 1)
	task.WaitForSuccess = true
	mustLoad(t, e, []Task{task})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), nil) }()

	time.Sleep(20 * time.Millisecond)
	e.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v, want nil for a stopped run", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if got := e.Status(); got != StatusStopped {
		t.Errorf("status = %s, want %s", got, StatusStopped)
	}
}

func TestRun_ProgressReporting(t *testing.T) {
	e := newTestEngine(&fakeDevice{}, &fakeVision{})
	mustLoad(t, e, []Task{click(1, 1), click(2, 2)})

	var reported [][2]int
	progress := func(done, total int) { reported = append(reported, [2]int{done, total}) }

	if err := e.Run(context.Background(), progress); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := [][2]int{{1, 2}, {2, 2}}
	if len(reported) != len(want) {
		t.Fatalf("got %d progress reports, want %d", len(reported), len(want))
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Errorf("report %d = %v, want %v", i, reported[i], want[i])
		}
	}

	done, total := e.ProgressState()
	if done != 2 || total != 2 {
		t.Errorf("ProgressState = (%d, %d), want (2, 2)", done, total)
	}
}

func TestRun_StructureErrorFailsBeforeExecuting(t *testing.T) {
	dev := &fakeDevice{}
	e := newTestEngine(dev, &fakeVision{})
	mustLoad(t, e, []Task{click(1, 1), {Type: TypeLoop}})

	err := e.Run(context.Background(), nil)
	var serr *StructureError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, want StructureError", err)
	}
	if len(dev.taps) != 0 {
		t.Errorf("executed tasks despite a broken structure: %v", dev.taps)
	}
}

func TestRun_ConnectsConfiguredDevice(t *testing.T) {
	dev := &fakeDevice{}
	cfg := DefaultConfig()
	cfg.TaskDelay = 0
	cfg.DeviceID = "emulator-5554"
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(cfg, dev, &fakeVision{}, log)
	mustLoad(t, e, []Task{click(1, 1)})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dev.connected) != 1 || dev.connected[0] != "emulator-5554" {
		t.Errorf("connected = %v, want [emulator-5554]", dev.connected)
	}
}

func TestRun_ConnectFailureFailsRun(t *testing.T) {
	dev := &fakeDevice{connectFn: func(string) error { return fmt.Errorf("offline") }}
	cfg := DefaultConfig()
	cfg.DeviceID = "emulator-5554"
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(cfg, dev, &fakeVision{}, log)
	mustLoad(t, e, []Task{click(1, 1)})

	if err := e.Run(context.Background(), nil); err == nil {
		t.Fatal("expected connect failure to fail the run")
	}
	if got := e.Status(); got != StatusFailed {
		t.Errorf("status = %s, want %s", got, StatusFailed)
	}
}

func TestLoad_RejectsInvalidTask(t *testing.T) {
	e := newTestEngine(&fakeDevice{}, &fakeVision{})

	if err := e.Load([]Task{{Description: "no type"}}); err == nil {
		t.Error("expected a validation error for a task without a type")
	}
}

func TestSummary(t *testing.T) {
	e := newTestEngine(&fakeDevice{}, &fakeVision{})

	if got := e.Summary(); got != "no run recorded yet" {
		t.Errorf("pre-run summary = %q", got)
	}

	timed := click(1, 1)
	timed.Description = "collect reward"
	timed.EnableTimer = true
	untimed := click(2, 2)
	mustLoad(t, e, []Task{timed, untimed, timed})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	summary := e.Summary()
	if !strings.Contains(summary, "--- run summary ---") {
		t.Errorf("summary missing header:\n%s", summary)
	}
	if !strings.Contains(summary, "total elapsed:") {
		t.Errorf("summary missing elapsed time:\n%s", summary)
	}
	if !strings.Contains(summary, "- collect reward: 2") {
		t.Errorf("summary missing timed task count:\n%s", summary)
	}
}

func TestRun_AssignsRunID(t *testing.T) {
	e := newTestEngine(&fakeDevice{}, &fakeVision{})
	mustLoad(t, e, []Task{click(1, 1)})

	if err := e.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.RunID() == "" {
		t.Error("run finished without a run ID")
	}
}
