package chrono

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// fakeSource is a minimal BroadcasterSource driven directly by a test,
// bypassing JobRegistry so broadcaster scenarios can be exercised in
// isolation.
type fakeSource struct {
	events chan Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan Event, 64)}
}

func (f *fakeSource) Events() <-chan Event { return f.events }
func (f *fakeSource) Demand(int)           {}

func (f *fakeSource) add(job *Job) {
	f.events <- AddEvent{Job: job}
}

func (f *fakeSource) remove(name string) {
	f.events <- RemoveEvent{Name: name}
}

func newTestBroadcaster(t *testing.T, mock *clock.Mock) (*ExecutionBroadcaster, *fakeSource, context.CancelFunc) {
	t.Helper()
	src := newFakeSource()
	store := NewInMemoryBroadcasterStorage()
	b := NewExecutionBroadcaster(store, src, NewBuiltinEvaluator(), NewStdTZConverter(), mock)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := b.Run(ctx); err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	}()
	return b, src, cancel
}

func recvExecute(t *testing.T, b *ExecutionBroadcaster, timeout time.Duration) ExecuteEvent {
	t.Helper()
	b.Demand(1)
	select {
	case ev := <-b.Events():
		exec, ok := ev.(ExecuteEvent)
		if !ok {
			t.Fatalf("expected ExecuteEvent, got %T", ev)
		}
		return exec
	case <-time.After(timeout):
		t.Fatal("timed out waiting for ExecuteEvent")
		return ExecuteEvent{}
	}
}

// S1: a job scheduled one minute out fires when the mock clock advances past
// it.
func TestExecutionBroadcaster_FiresOnSchedule(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b, src, cancel := newTestBroadcaster(t, mock)
	defer cancel()

	src.add(&Job{Name: "every-minute", Sched: Schedule{Expr: "* * * * *"}, Timezone: "UTC", State: StateActive})
	time.Sleep(50 * time.Millisecond)

	mock.Add(time.Minute)
	exec := recvExecute(t, b, time.Second)
	if exec.Job.Name != "every-minute" {
		t.Fatalf("expected job 'every-minute', got %q", exec.Job.Name)
	}
}

// S2: removing a job before it fires drops it from the firing queue entirely.
func TestExecutionBroadcaster_RemoveDropsFromQueue(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b, src, cancel := newTestBroadcaster(t, mock)
	defer cancel()

	src.add(&Job{Name: "soon", Sched: Schedule{Expr: "* * * * *"}, Timezone: "UTC", State: StateActive})
	time.Sleep(50 * time.Millisecond)
	src.remove("soon")
	time.Sleep(50 * time.Millisecond)

	mock.Add(5 * time.Minute)
	b.Demand(1)
	select {
	case ev := <-b.Events():
		t.Fatalf("expected no ExecuteEvent for removed job, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

// S3: a job with an invalid timezone is dropped from the firing queue rather
// than blocking the stage.
func TestExecutionBroadcaster_InvalidZoneDropsJob(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b, src, cancel := newTestBroadcaster(t, mock)
	defer cancel()

	src.add(&Job{Name: "bad-zone", Sched: Schedule{Expr: "* * * * *"}, Timezone: "Not/AZone", State: StateActive})
	time.Sleep(50 * time.Millisecond)

	mock.Add(time.Minute)
	b.Demand(1)
	select {
	case ev := <-b.Events():
		t.Fatalf("expected no ExecuteEvent for invalid-zone job, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

// A schedule that can never match (Feb 30th) is dropped from the firing
// queue with a warning, same as an invalid zone, and must not crash the
// stage: the broadcaster keeps serving other jobs afterward (spec §4.2/§7's
// NoMatchingDate handling).
func TestExecutionBroadcaster_NoMatchingDateDropsJobAndSurvives(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b, src, cancel := newTestBroadcaster(t, mock)
	defer cancel()

	src.add(&Job{Name: "never-matches", Sched: Schedule{Expr: "0 0 30 2 *"}, Timezone: "UTC", State: StateActive})
	time.Sleep(50 * time.Millisecond)

	mock.Add(time.Minute)
	b.Demand(1)
	select {
	case ev := <-b.Events():
		t.Fatalf("expected no ExecuteEvent for a never-matching schedule, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	// The stage must still be alive and scheduling other jobs.
	src.add(&Job{Name: "every-minute", Sched: Schedule{Expr: "* * * * *"}, Timezone: "UTC", State: StateActive})
	time.Sleep(50 * time.Millisecond)
	mock.Add(time.Minute)
	exec := recvExecute(t, b, time.Second)
	if exec.Job.Name != "every-minute" {
		t.Fatalf("expected job 'every-minute', got %q", exec.Job.Name)
	}
}

// S4: a reboot job bypasses the firing queue and fires immediately on add,
// without waiting on the clock at all.
func TestExecutionBroadcaster_RebootJobFiresImmediately(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b, src, cancel := newTestBroadcaster(t, mock)
	defer cancel()

	src.add(&Job{Name: "on-boot", Sched: Schedule{Reboot: true}, State: StateActive})
	exec := recvExecute(t, b, time.Second)
	if exec.Job.Name != "on-boot" {
		t.Fatalf("expected job 'on-boot', got %q", exec.Job.Name)
	}
}

// S5: the watermark only ever advances, never regresses, as jobs fire.
func TestExecutionBroadcaster_WatermarkMonotonic(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	store := NewInMemoryBroadcasterStorage()
	src := newFakeSource()
	b := NewExecutionBroadcaster(store, src, NewBuiltinEvaluator(), NewStdTZConverter(), mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	src.add(&Job{Name: "every-minute", Sched: Schedule{Expr: "* * * * *"}, Timezone: "UTC", State: StateActive})
	time.Sleep(50 * time.Millisecond)

	var last time.Time
	for i := 0; i < 3; i++ {
		mock.Add(time.Minute)
		recvExecute(t, b, time.Second)
		wm, ok, err := store.LastExecutionDate(context.Background())
		if err != nil || !ok {
			t.Fatalf("LastExecutionDate() error=%v ok=%v", err, ok)
		}
		if wm.Before(last) {
			t.Fatalf("watermark regressed: %v before %v", wm, last)
		}
		last = wm
	}
}

// S6: a fired bucket whose instant lands before the current watermark is a
// fatal invariant violation (it can only arise from a corrupted firing
// queue, e.g. a bad hand-off merge) and must panic with JobInPast rather
// than advance the watermark backwards. fire() is exercised directly so
// recover() can observe the panic in the same goroutine that raises it.
func TestExecutionBroadcaster_JobInPastPanics(t *testing.T) {
	store := NewInMemoryBroadcasterStorage()
	src := newFakeSource()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b := NewExecutionBroadcaster(store, src, NewBuiltinEvaluator(), NewStdTZConverter(), mock)
	b.watermark = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	b.queue = []bucket{{
		at:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		jobs: []*Job{{Name: "stale", Sched: Schedule{Expr: "* * * * *"}, Timezone: "UTC", State: StateActive}},
	}}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected JobInPast panic, got none")
		}
		if _, ok := r.(JobInPast); !ok {
			t.Fatalf("expected JobInPast panic, got %T: %v", r, r)
		}
	}()

	_ = b.fire(context.Background(), mock.Now())
	t.Fatal("expected JobInPast panic to have propagated before this point")
}
