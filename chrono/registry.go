package chrono

import (
	"context"
	"fmt"

	"github.com/chronosched/chronosched/l3"
)

var logger = l3.Get()

// JobRegistry is the authoritative catalog of jobs (spec §4.1). It is an
// actor: every command (add, remove, activate, deactivate, purge, hand-off)
// is a message delivered to its own mailbox and handled one at a time on a
// single goroutine, so catalog mutation and event production never race.
// Consumers pull AddEvent/RemoveEvent via Demand, following the
// producer/consumer protocol in spec §5.
type JobRegistry struct {
	storage RegistryStorage
	mailbox chan registryCommand
	events  chan Event
	buffer  *demandBuffer
	jobs    map[string]*Job
	done    chan struct{}
}

type registryCommand interface {
	apply(r *JobRegistry) error
}

// NewJobRegistry constructs a JobRegistry backed by storage. Run must be
// called (typically by Pipeline) before any command is accepted.
func NewJobRegistry(storage RegistryStorage) *JobRegistry {
	events := make(chan Event, 256)
	return &JobRegistry{
		storage: storage,
		mailbox: make(chan registryCommand),
		events:  events,
		buffer:  newDemandBuffer(events),
		jobs:    make(map[string]*Job),
		done:    make(chan struct{}),
	}
}

// Events returns the channel AddEvent/RemoveEvent are delivered on, subject
// to outstanding Demand.
func (r *JobRegistry) Events() <-chan Event {
	return r.events
}

// Demand releases up to n buffered events onto Events(), per spec §5's
// consumer-pull protocol. It is fire-and-forget: unlike AddJob, RemoveJob,
// Activate, Deactivate and Purge, which wait until the command has been
// applied and return its error, Demand does not wait for a reply.
func (r *JobRegistry) Demand(n int) {
	select {
	case r.mailbox <- demandCmd{n: n}:
	case <-r.done:
	}
}

// Run loads the initial catalog from storage (or from seed if storage has no
// opinion) and then serves the mailbox until ctx is cancelled. It is meant to
// run on its own goroutine, typically started by Pipeline.
func (r *JobRegistry) Run(ctx context.Context, seed []*Job) error {
	if err := r.load(ctx, seed); err != nil {
		return err
	}
	for {
		select {
		case cmd := <-r.mailbox:
			if err := cmd.apply(r); err != nil {
				logger.WarnF("chrono: registry command failed: %v", err)
			}
		case <-ctx.Done():
			close(r.done)
			return nil
		}
	}
}

func (r *JobRegistry) load(ctx context.Context, seed []*Job) error {
	jobs, err := r.storage.Jobs(ctx)
	switch {
	case err == ErrNotApplicable:
		jobs = seed
	case err != nil:
		return fmt.Errorf("chrono: loading catalog: %w", err)
	}
	for _, j := range jobs {
		r.jobs[j.Name] = j
		if j.State == StateActive {
			r.buffer.push(AddEvent{Job: j.Clone()})
		}
	}
	return nil
}

func (r *JobRegistry) send(cmd registryCommand, reply chan error) error {
	select {
	case r.mailbox <- cmd:
	case <-r.done:
		return ErrPipelineStopped
	}
	return <-reply
}

// AddJob inserts or replaces a job by name and, if active, emits AddEvent.
func (r *JobRegistry) AddJob(ctx context.Context, job *Job) error {
	if job.Name == "" {
		return ErrEmptyJobName
	}
	reply := make(chan error, 1)
	return r.send(addJobCmd{ctx: ctx, job: job.Clone(), reply: reply}, reply)
}

// RemoveJob deletes a job by name and, if it was active, emits RemoveEvent.
func (r *JobRegistry) RemoveJob(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	return r.send(removeJobCmd{ctx: ctx, name: name, reply: reply}, reply)
}

// Activate marks a job active, emitting AddEvent if it was previously inactive.
func (r *JobRegistry) Activate(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	return r.send(setStateCmd{ctx: ctx, name: name, state: StateActive, reply: reply}, reply)
}

// Deactivate marks a job inactive, emitting RemoveEvent if it was previously active.
func (r *JobRegistry) Deactivate(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	return r.send(setStateCmd{ctx: ctx, name: name, state: StateInactive, reply: reply}, reply)
}

// Purge clears the entire catalog, emitting RemoveEvent for every job that
// was active.
func (r *JobRegistry) Purge(ctx context.Context) error {
	reply := make(chan error, 1)
	return r.send(purgeCmd{ctx: ctx, reply: reply}, reply)
}

// Jobs returns a snapshot of the catalog.
func (r *JobRegistry) Jobs(ctx context.Context) ([]*Job, error) {
	reply := make(chan jobsReply, 1)
	select {
	case r.mailbox <- jobsCmd{reply: reply}:
	case <-r.done:
		return nil, ErrPipelineStopped
	}
	res := <-reply
	return res.jobs, res.err
}

// Find returns a snapshot of the named job, or nil if no such job exists in
// the catalog (spec §4.1's "find" query).
func (r *JobRegistry) Find(ctx context.Context, name string) (*Job, error) {
	reply := make(chan findReply, 1)
	select {
	case r.mailbox <- findJobCmd{name: name, reply: reply}:
	case <-r.done:
		return nil, ErrPipelineStopped
	}
	res := <-reply
	return res.job, res.err
}

// handoffSnapshot is the payload captured by begin_handoff (spec §4.1/§9):
// the full catalog and the outbound buffer's undelivered backlog, so a peer
// taking ownership can reconstruct identical state.
type handoffSnapshot struct {
	jobs    []*Job
	pending []Event
}

// BeginHandoff snapshots the catalog and pending buffer for transfer to a peer.
func (r *JobRegistry) BeginHandoff(ctx context.Context) (handoffSnapshot, error) {
	reply := make(chan handoffSnapshotReply, 1)
	select {
	case r.mailbox <- beginHandoffCmd{reply: reply}:
	case <-r.done:
		return handoffSnapshot{}, ErrPipelineStopped
	}
	res := <-reply
	return res.snapshot, res.err
}

// EndHandoff merges an incoming snapshot into local state: catalog entries
// overwrite-by-name, and the incoming pending buffer is appended after the
// local one, preserving local delivery order (spec §4.1/§9).
func (r *JobRegistry) EndHandoff(ctx context.Context, snap handoffSnapshot) error {
	reply := make(chan error, 1)
	return r.send(endHandoffCmd{ctx: ctx, snap: snap, reply: reply}, reply)
}

// ResolveConflict is an alias for EndHandoff's merge semantics, invoked when
// two peers both believe they own the same job set (spec §4.1).
func (r *JobRegistry) ResolveConflict(ctx context.Context, snap handoffSnapshot) error {
	return r.EndHandoff(ctx, snap)
}

// Die performs the clean-stop path of the hand-off protocol: cancel
// everything and return without draining the mailbox.
func (r *JobRegistry) Die() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

type demandCmd struct{ n int }

func (c demandCmd) apply(r *JobRegistry) error {
	r.buffer.request(c.n)
	return nil
}

type addJobCmd struct {
	ctx   context.Context
	job   *Job
	reply chan error
}

func (c addJobCmd) apply(r *JobRegistry) error {
	err := r.storage.AddJob(c.ctx, c.job)
	if err != nil {
		c.reply <- err
		return err
	}
	_, existed := r.jobs[c.job.Name]
	wasActive := existed && r.jobs[c.job.Name].State == StateActive
	r.jobs[c.job.Name] = c.job
	if c.job.State == StateActive {
		r.buffer.push(AddEvent{Job: c.job.Clone()})
	} else if wasActive {
		r.buffer.push(RemoveEvent{Name: c.job.Name})
	}
	c.reply <- nil
	return nil
}

type removeJobCmd struct {
	ctx   context.Context
	name  string
	reply chan error
}

func (c removeJobCmd) apply(r *JobRegistry) error {
	job, ok := r.jobs[c.name]
	if !ok {
		// spec §4.1: delete(name) on a missing job is a no-op, not an error.
		c.reply <- nil
		return nil
	}
	if err := r.storage.DeleteJob(c.ctx, c.name); err != nil {
		c.reply <- err
		return err
	}
	delete(r.jobs, c.name)
	if job.State == StateActive {
		r.buffer.push(RemoveEvent{Name: c.name})
	}
	c.reply <- nil
	return nil
}

type setStateCmd struct {
	ctx   context.Context
	name  string
	state JobState
	reply chan error
}

func (c setStateCmd) apply(r *JobRegistry) error {
	job, ok := r.jobs[c.name]
	if !ok {
		c.reply <- ErrJobNotFound
		return ErrJobNotFound
	}
	if job.State == c.state {
		c.reply <- nil
		return nil
	}
	if err := r.storage.UpdateJobState(c.ctx, c.name, c.state); err != nil {
		c.reply <- err
		return err
	}
	job.State = c.state
	if c.state == StateActive {
		r.buffer.push(AddEvent{Job: job.Clone()})
	} else {
		r.buffer.push(RemoveEvent{Name: c.name})
	}
	c.reply <- nil
	return nil
}

type purgeCmd struct {
	ctx   context.Context
	reply chan error
}

func (c purgeCmd) apply(r *JobRegistry) error {
	if err := r.storage.Purge(c.ctx); err != nil {
		c.reply <- err
		return err
	}
	for name, job := range r.jobs {
		if job.State == StateActive {
			r.buffer.push(RemoveEvent{Name: name})
		}
	}
	r.jobs = make(map[string]*Job)
	c.reply <- nil
	return nil
}

type jobsReply struct {
	jobs []*Job
	err  error
}

type jobsCmd struct {
	reply chan jobsReply
}

func (c jobsCmd) apply(r *JobRegistry) error {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	c.reply <- jobsReply{jobs: out}
	return nil
}

type findReply struct {
	job *Job
	err error
}

type findJobCmd struct {
	name  string
	reply chan findReply
}

func (c findJobCmd) apply(r *JobRegistry) error {
	job, ok := r.jobs[c.name]
	if !ok {
		c.reply <- findReply{}
		return nil
	}
	c.reply <- findReply{job: job.Clone()}
	return nil
}

type handoffSnapshotReply struct {
	snapshot handoffSnapshot
	err      error
}

type beginHandoffCmd struct {
	reply chan handoffSnapshotReply
}

func (c beginHandoffCmd) apply(r *JobRegistry) error {
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j.Clone())
	}
	c.reply <- handoffSnapshotReply{snapshot: handoffSnapshot{
		jobs:    jobs,
		pending: r.buffer.pending(),
	}}
	return nil
}

type endHandoffCmd struct {
	ctx   context.Context
	snap  handoffSnapshot
	reply chan error
}

func (c endHandoffCmd) apply(r *JobRegistry) error {
	for _, j := range c.snap.jobs {
		if err := r.storage.AddJob(c.ctx, j); err != nil {
			c.reply <- err
			return err
		}
		r.jobs[j.Name] = j
	}
	r.buffer.appendAll(c.snap.pending)
	c.reply <- nil
	return nil
}
