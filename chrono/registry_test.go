package chrono

import (
	"context"
	"testing"
	"time"
)

func newRunningRegistry(t *testing.T, seed []*Job) (*JobRegistry, context.CancelFunc) {
	t.Helper()
	r := NewJobRegistry(NewInMemoryRegistryStorage())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := r.Run(ctx, seed); err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	}()
	return r, cancel
}

func recvEvent(t *testing.T, r *JobRegistry, timeout time.Duration) Event {
	t.Helper()
	r.Demand(1)
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestJobRegistry_AddJob_EmitsAddEvent(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	job := &Job{Name: "daily", Sched: Schedule{Expr: "0 0 * * *"}, Timezone: "UTC", State: StateActive}
	if err := r.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	ev := recvEvent(t, r, time.Second)
	add, ok := ev.(AddEvent)
	if !ok {
		t.Fatalf("expected AddEvent, got %T", ev)
	}
	if add.Job.Name != "daily" {
		t.Fatalf("expected job name 'daily', got %q", add.Job.Name)
	}
}

func TestJobRegistry_AddJob_InactiveEmitsNothing(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	job := &Job{Name: "paused", Sched: Schedule{Expr: "0 0 * * *"}, State: StateInactive}
	if err := r.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	r.Demand(1)
	select {
	case ev := <-r.Events():
		t.Fatalf("expected no event for inactive job, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJobRegistry_AddJob_EmptyName(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	if err := r.AddJob(context.Background(), &Job{Name: ""}); err != ErrEmptyJobName {
		t.Fatalf("expected ErrEmptyJobName, got %v", err)
	}
}

func TestJobRegistry_RemoveJob_EmitsRemoveEvent(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	job := &Job{Name: "daily", Sched: Schedule{Expr: "0 0 * * *"}, State: StateActive}
	if err := r.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}
	recvEvent(t, r, time.Second)

	if err := r.RemoveJob(context.Background(), "daily"); err != nil {
		t.Fatalf("RemoveJob() error: %v", err)
	}
	ev := recvEvent(t, r, time.Second)
	rm, ok := ev.(RemoveEvent)
	if !ok {
		t.Fatalf("expected RemoveEvent, got %T", ev)
	}
	if rm.Name != "daily" {
		t.Fatalf("expected name 'daily', got %q", rm.Name)
	}
}

func TestJobRegistry_RemoveJob_MissingIsNoOp(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	if err := r.RemoveJob(context.Background(), "missing"); err != nil {
		t.Fatalf("expected delete(name) on a missing job to be a no-op, got %v", err)
	}
}

func TestJobRegistry_ActivateDeactivate(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	job := &Job{Name: "daily", Sched: Schedule{Expr: "0 0 * * *"}, State: StateInactive}
	if err := r.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	if err := r.Activate(context.Background(), "daily"); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if ev, ok := recvEvent(t, r, time.Second).(AddEvent); !ok || ev.Job.Name != "daily" {
		t.Fatalf("expected AddEvent for 'daily'")
	}

	if err := r.Deactivate(context.Background(), "daily"); err != nil {
		t.Fatalf("Deactivate() error: %v", err)
	}
	if ev, ok := recvEvent(t, r, time.Second).(RemoveEvent); !ok || ev.Name != "daily" {
		t.Fatalf("expected RemoveEvent for 'daily'")
	}
}

func TestJobRegistry_Purge(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	for _, name := range []string{"a", "b"} {
		job := &Job{Name: name, Sched: Schedule{Expr: "0 0 * * *"}, State: StateActive}
		if err := r.AddJob(context.Background(), job); err != nil {
			t.Fatalf("AddJob(%s) error: %v", name, err)
		}
		recvEvent(t, r, time.Second)
	}

	if err := r.Purge(context.Background()); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := recvEvent(t, r, time.Second)
		rm, ok := ev.(RemoveEvent)
		if !ok {
			t.Fatalf("expected RemoveEvent, got %T", ev)
		}
		seen[rm.Name] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected RemoveEvent for both jobs, got %v", seen)
	}

	jobs, err := r.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs() error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty catalog after purge, got %d jobs", len(jobs))
	}
}

func TestJobRegistry_Find(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	job := &Job{Name: "daily", Sched: Schedule{Expr: "0 0 * * *"}, Timezone: "UTC", State: StateActive}
	if err := r.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	found, err := r.Find(context.Background(), "daily")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if found == nil || found.Name != "daily" {
		t.Fatalf("expected job 'daily', got %+v", found)
	}

	missing, err := r.Find(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing job, got %+v", missing)
	}
}

func TestJobRegistry_Demand_BacksPressure(t *testing.T) {
	r, cancel := newRunningRegistry(t, nil)
	defer cancel()

	for _, name := range []string{"a", "b", "c"} {
		job := &Job{Name: name, Sched: Schedule{Expr: "0 0 * * *"}, State: StateActive}
		if err := r.AddJob(context.Background(), job); err != nil {
			t.Fatalf("AddJob(%s) error: %v", name, err)
		}
	}

	select {
	case ev := <-r.Events():
		t.Fatalf("expected no delivery without demand, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	r.Demand(3)
	for i := 0; i < 3; i++ {
		select {
		case <-r.Events():
		case <-time.After(time.Second):
			t.Fatalf("expected event %d after demand", i)
		}
	}
}

func TestJobRegistry_Handoff_MergesByNameAndAppendsBacklog(t *testing.T) {
	src, cancelSrc := newRunningRegistry(t, nil)
	defer cancelSrc()
	dst, cancelDst := newRunningRegistry(t, nil)
	defer cancelDst()

	srcJob := &Job{Name: "shared", Sched: Schedule{Expr: "0 0 * * *"}, State: StateActive}
	if err := src.AddJob(context.Background(), srcJob); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	snap, err := src.BeginHandoff(context.Background())
	if err != nil {
		t.Fatalf("BeginHandoff() error: %v", err)
	}
	if len(snap.jobs) != 1 || len(snap.pending) != 1 {
		t.Fatalf("expected 1 job and 1 pending event in snapshot, got %d/%d", len(snap.jobs), len(snap.pending))
	}

	localJob := &Job{Name: "local", Sched: Schedule{Expr: "0 0 * * *"}, State: StateActive}
	if err := dst.AddJob(context.Background(), localJob); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}
	recvEvent(t, dst, time.Second)

	if err := dst.EndHandoff(context.Background(), snap); err != nil {
		t.Fatalf("EndHandoff() error: %v", err)
	}

	jobs, err := dst.Jobs(context.Background())
	if err != nil {
		t.Fatalf("Jobs() error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs after merge, got %d", len(jobs))
	}

	ev := recvEvent(t, dst, time.Second)
	add, ok := ev.(AddEvent)
	if !ok || add.Job.Name != "shared" {
		t.Fatalf("expected incoming pending AddEvent for 'shared' appended after local backlog, got %v", ev)
	}
}
