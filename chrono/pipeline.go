package chrono

import (
	"context"
	"sync"

	"github.com/chronosched/chronosched/lifecycle"
	"github.com/chronosched/chronosched/uuid"
)

// Executor runs a job's payload when it comes due. It is the external
// collaborator spec §6 calls "the executor"; Pipeline only ever hands it
// ExecuteEvent, never the firing queue or storage.
type Executor interface {
	Execute(ctx context.Context, job *Job)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, job *Job)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) { f(ctx, job) }

// Pipeline wires a JobRegistry into an ExecutionBroadcaster and drains
// ExecuteEvent to an Executor, supervising both stages the way the teacher
// package supervises its own components: each stage runs under
// lifecycle.SimpleComponent, restarted on crash rather than left dead.
type Pipeline struct {
	instanceID  string
	registry    *JobRegistry
	broadcaster *ExecutionBroadcaster
	bcastStore  BroadcasterStorage
	clock       Clock
	executor    Executor

	manager *lifecycle.SimpleComponentManager

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	drain  context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline assembles a Pipeline from opts, defaulting unset collaborators
// per Config.
func NewPipeline(executor Executor, opts ...Option) *Pipeline {
	cfg := newConfig(opts)

	registry := NewJobRegistry(cfg.registryStorage)
	broadcaster := NewExecutionBroadcaster(cfg.broadcasterStorage, registry, cfg.evaluator, cfg.tz, cfg.clock)

	id, err := uuid.V4()
	instanceID := ""
	if err != nil {
		logger.WarnF("chrono: generating instance id: %v", err)
	} else {
		instanceID = id.String()
	}

	p := &Pipeline{
		instanceID:  instanceID,
		registry:    registry,
		broadcaster: broadcaster,
		bcastStore:  cfg.broadcasterStorage,
		clock:       cfg.clock,
		executor:    executor,
		manager:     lifecycle.NewSimpleComponentManager(),
	}

	p.manager.Register(&lifecycle.SimpleComponent{
		CompId: "registry",
		StartFunc: func() error {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.superviseRegistry(cfg.seed)
			}()
			return nil
		},
		StopFunc: func() error {
			return nil
		},
	})
	p.manager.Register(&lifecycle.SimpleComponent{
		CompId: "broadcaster",
		StartFunc: func() error {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.superviseBroadcaster()
			}()
			return nil
		},
		StopFunc: func() error {
			return nil
		},
	})
	p.manager.AddDependency("broadcaster", "registry")

	return p
}

// Start launches both stages and the drain loop. It does not block.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return ErrPipelineRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	drainCtx, drainCancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.drain = drainCancel
	p.mu.Unlock()

	p.runCtx = runCtx
	if err := p.manager.StartAll(); err != nil {
		return err
	}

	logger.InfoF("chrono: pipeline %s started", p.instanceID)
	p.broadcaster.Demand(64)
	p.wg.Add(1)
	go p.drainLoop(drainCtx)
	return nil
}

// Stop cancels both stages and the drain loop and waits for them to exit.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return ErrPipelineStopped
	}
	p.cancel()
	p.drain()
	p.cancel = nil
	p.drain = nil
	p.mu.Unlock()

	p.registry.Die()
	p.broadcaster.Die()
	_ = p.manager.StopAll()
	p.wg.Wait()
	logger.InfoF("chrono: pipeline %s stopped", p.instanceID)
	return nil
}

// InstanceID identifies this Pipeline in logs and cluster hand-off, generated
// once at construction time.
func (p *Pipeline) InstanceID() string { return p.instanceID }

// Registry exposes the underlying JobRegistry for catalog operations
// (AddJob, RemoveJob, Activate, Deactivate, Purge, Jobs, hand-off).
func (p *Pipeline) Registry() *JobRegistry { return p.registry }

// Broadcaster exposes the underlying ExecutionBroadcaster for hand-off.
func (p *Pipeline) Broadcaster() *ExecutionBroadcaster { return p.broadcaster }

func (p *Pipeline) drainLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case ev, ok := <-p.broadcaster.Events():
			if !ok {
				return
			}
			if exec, ok := ev.(ExecuteEvent); ok {
				p.executor.Execute(ctx, exec.Job)
			}
			p.broadcaster.Demand(1)
		case <-ctx.Done():
			return
		}
	}
}

// superviseRegistry runs JobRegistry.Run, restarting it if it returns an
// error (a failure to load the catalog from storage) with the pipeline still
// active. Run returns nil only after context cancellation, which ends the
// stage.
func (p *Pipeline) superviseRegistry(seed []*Job) {
	for {
		err := p.registry.Run(p.runCtx, seed)
		if err == nil {
			return
		}
		logger.ErrorF("chrono: registry stopped, restarting: %v", err)
		select {
		case <-p.runCtx.Done():
			return
		default:
		}
	}
}

// superviseBroadcaster runs ExecutionBroadcaster.Run, recovering a JobInPast
// panic by resetting the watermark to the current wall-clock time and
// restarting the stage, per spec §4.2/§7: the invariant violation is fatal
// to the stage's in-memory state, not to the process.
func (p *Pipeline) superviseBroadcaster() {
	for {
		if p.runOnce() {
			return
		}
		if err := p.bcastStore.UpdateLastExecutionDate(p.runCtx, stripLocation(p.clock.Now())); err != nil {
			logger.ErrorF("chrono: resetting watermark after restart: %v", err)
		}
		select {
		case <-p.runCtx.Done():
			return
		default:
		}
	}
}

// runOnce runs the broadcaster once, recovering a JobInPast panic. It
// reports whether the stage exited cleanly (true) or needs a restart (false).
func (p *Pipeline) runOnce() (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(JobInPast); ok {
				logger.ErrorF("chrono: broadcaster hit JobInPast invariant violation, restarting: %v", r)
				clean = false
				return
			}
			panic(r)
		}
	}()
	if err := p.broadcaster.Run(p.runCtx); err != nil {
		logger.ErrorF("chrono: broadcaster stopped: %v", err)
	}
	return true
}
