package chrono

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// capturingExecutor records every job handed to it by Pipeline's drain loop.
type capturingExecutor struct {
	mu   sync.Mutex
	jobs []string
}

func (e *capturingExecutor) Execute(_ context.Context, job *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job.Name)
}

func (e *capturingExecutor) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.jobs))
	copy(out, e.jobs)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestPipeline_EndToEnd_FiresAddedJob exercises the full registry ->
// broadcaster -> executor wiring (spec §2's whole pipeline), asserting that
// Start() actually launches both stage goroutines concurrently (a prior
// revision of this wiring synchronously blocked on the first stage forever,
// so the second never started at all).
func TestPipeline_EndToEnd_FiresAddedJob(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	exec := &capturingExecutor{}

	p := NewPipeline(exec, WithClock(mock))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	if err := p.Registry().AddJob(context.Background(), &Job{
		Name:     "every-minute",
		Sched:    Schedule{Expr: "* * * * *"},
		Timezone: "UTC",
		State:    StateActive,
	}); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		jobs, err := p.Registry().Jobs(context.Background())
		return err == nil && len(jobs) == 1
	})

	mock.Add(time.Minute)

	waitFor(t, 2*time.Second, func() bool {
		names := exec.names()
		return len(names) == 1 && names[0] == "every-minute"
	})
}

// TestPipeline_StartReturnsPromptly guards directly against the Start()
// hang: both stages must reach Running without Start() blocking on either
// one's run loop.
func TestPipeline_StartReturnsPromptly(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	p := NewPipeline(ExecutorFunc(func(context.Context, *Job) {}), WithClock(mock))

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return; a stage's StartFunc is blocking the manager")
	}
	defer p.Stop()
}

// TestPipeline_Stop_IsIdempotentAndClean verifies Stop() can be called after
// Start() and that a second Stop() reports ErrPipelineStopped rather than
// hanging or panicking.
func TestPipeline_Stop_IsIdempotentAndClean(t *testing.T) {
	mock := clock.NewMock()
	p := NewPipeline(ExecutorFunc(func(context.Context, *Job) {}), WithClock(mock))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := p.Stop(); err != ErrPipelineStopped {
		t.Fatalf("expected ErrPipelineStopped on second Stop(), got %v", err)
	}
}
