package chrono

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chronosched/chronosched/errutils"
)

// ExecutionBroadcaster consumes AddEvent/RemoveEvent from a JobRegistry (or a
// peer broadcaster during hand-off) and emits ExecuteEvent the instant a job
// comes due (spec §4.2). It keeps exactly one pending timer armed for the
// nearest bucket in its firing queue, re-arming on every mutation that moves
// the head instant, rather than one timer per job.
type ExecutionBroadcaster struct {
	storage   BroadcasterStorage
	evaluator CronEvaluator
	tz        TZConverter
	clock     Clock

	upstream <-chan Event
	demand   func(n int)

	events chan Event
	buffer *demandBuffer

	mailbox chan broadcasterCommand
	done    chan struct{}

	queue     []bucket
	watermark time.Time
	timer     Timer
}

// BroadcasterSource is the upstream event feed an ExecutionBroadcaster reads
// from, together with the means to signal demand back to it. JobRegistry
// satisfies this via Events()/Demand.
type BroadcasterSource interface {
	Events() <-chan Event
	Demand(n int)
}

// NewExecutionBroadcaster constructs an ExecutionBroadcaster reading from
// source and persisting its watermark through storage.
func NewExecutionBroadcaster(storage BroadcasterStorage, source BroadcasterSource, evaluator CronEvaluator, tz TZConverter, clk Clock) *ExecutionBroadcaster {
	events := make(chan Event, 256)
	return &ExecutionBroadcaster{
		storage:   storage,
		evaluator: evaluator,
		tz:        tz,
		clock:     clk,
		upstream:  source.Events(),
		demand:    source.Demand,
		events:    events,
		buffer:    newDemandBuffer(events),
		mailbox:   make(chan broadcasterCommand),
		done:      make(chan struct{}),
	}
}

// Events returns the channel ExecuteEvent is delivered on, subject to
// outstanding Demand.
func (b *ExecutionBroadcaster) Events() <-chan Event {
	return b.events
}

// Demand releases up to n buffered ExecuteEvent onto Events(). It is
// fire-and-forget: the mailbox loop applies it in order with every other
// command, but the caller does not wait on a reply.
func (b *ExecutionBroadcaster) Demand(n int) {
	select {
	case b.mailbox <- demandBcastCmd{n: n}:
	case <-b.done:
	}
}

// Run seeds the watermark from storage (or the clock if none is persisted),
// pulls upstream demand, and serves the mailbox and timer until ctx is
// cancelled.
func (b *ExecutionBroadcaster) Run(ctx context.Context) error {
	wm, ok, err := b.storage.LastExecutionDate(ctx)
	if err != nil {
		return fmt.Errorf("chrono: loading watermark: %w", err)
	}
	if ok {
		b.watermark = wm
	} else {
		b.watermark = stripLocation(b.clock.Now())
	}

	b.demand(64)

	timerC := make(<-chan time.Time)
	for {
		select {
		case ev, open := <-b.upstream:
			if !open {
				close(b.done)
				return nil
			}
			if err := b.handleUpstream(ctx, ev); err != nil {
				return err
			}
			b.demand(1)
		case cmd := <-b.mailbox:
			if err := cmd.apply(ctx, b); err != nil {
				return err
			}
		case now := <-timerC:
			if err := b.fire(ctx, now); err != nil {
				return err
			}
		case <-ctx.Done():
			b.stopTimer()
			close(b.done)
			return nil
		}
		timerC = b.timerChan()
	}
}

func (b *ExecutionBroadcaster) timerChan() <-chan time.Time {
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

func (b *ExecutionBroadcaster) send(cmd broadcasterCommand, reply chan error) error {
	select {
	case b.mailbox <- cmd:
	case <-b.done:
		return ErrPipelineStopped
	}
	return <-reply
}

func (b *ExecutionBroadcaster) handleUpstream(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case AddEvent:
		return b.schedule(ctx, e.Job)
	case RemoveEvent:
		b.unschedule(e.Name)
		return nil
	default:
		return nil
	}
}

// schedule computes the job's next firing and inserts it into the firing
// queue, unless it is a reboot job (which fires immediately and bypasses the
// queue entirely, per spec §4.2).
func (b *ExecutionBroadcaster) schedule(ctx context.Context, job *Job) error {
	b.unschedule(job.Name)

	if job.Sched.Reboot {
		b.buffer.push(ExecuteEvent{Job: job.Clone()})
		return nil
	}

	at, err := b.nextFiring(job, b.watermark)
	if errors.Is(err, ErrInvalidZone) {
		logger.ErrorF("chrono: job %s dropped from firing queue: invalid timezone %s", job.Name, job.Timezone)
		return nil
	}
	if errors.Is(err, ErrNoMatchingDate) || errors.Is(err, ErrInvalidCronExpr) {
		logger.WarnF("chrono: job %s dropped from firing queue: %v", job.Name, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("chrono: computing next firing for %s: %w", job.Name, err)
	}
	if at.Before(b.watermark) {
		panic(JobInPast{JobName: job.Name, Watermark: b.watermark, Computed: at})
	}
	b.insert(at, job)
	return nil
}

// nextFiring resolves a job's next naive-UTC activation strictly after from,
// converting through the job's timezone and retrying forward across a DST
// gap per spec §4.2's InvalidDateTimeForTimezone handling. The retry is
// bounded: each step advances the probe by a full minute and the schedule's
// own evaluator guarantees forward progress, so this terminates well before
// gapProbeLimit is exhausted for any real-world DST transition.
const gapProbeLimit = 4 * 60

func (b *ExecutionBroadcaster) nextFiring(job *Job, from time.Time) (time.Time, error) {
	localFrom, err := b.tz.ToLocal(from, job.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	probe := localFrom
	for i := 0; i < gapProbeLimit; i++ {
		localNext, err := b.evaluator.Next(job.Sched.Expr, probe)
		if err != nil {
			return time.Time{}, err
		}
		utc, err := b.tz.ToUTC(localNext, job.Timezone)
		if err == ErrInvalidDateTimeForTimezone {
			probe = localNext.Add(60 * time.Second)
			continue
		}
		if err != nil {
			return time.Time{}, err
		}
		return utc, nil
	}
	return time.Time{}, ErrInvalidDateTimeForTimezone
}

// insert places job into the bucket for at, creating a new bucket if needed,
// keeping the queue strictly ascending with no empty buckets (spec §4.2).
func (b *ExecutionBroadcaster) insert(at time.Time, job *Job) {
	idx := sort.Search(len(b.queue), func(i int) bool {
		return !b.queue[i].at.Before(at)
	})
	if idx < len(b.queue) && b.queue[idx].at.Equal(at) {
		b.queue[idx].jobs = append([]*Job{job}, b.queue[idx].jobs...)
	} else {
		nb := bucket{at: at, jobs: []*Job{job}}
		b.queue = append(b.queue, bucket{})
		copy(b.queue[idx+1:], b.queue[idx:])
		b.queue[idx] = nb
	}
	b.rearm()
}

// unschedule removes name from every bucket it appears in, dropping any
// bucket left empty.
func (b *ExecutionBroadcaster) unschedule(name string) {
	out := b.queue[:0]
	for _, bk := range b.queue {
		jobs := bk.jobs[:0]
		for _, j := range bk.jobs {
			if j.Name != name {
				jobs = append(jobs, j)
			}
		}
		if len(jobs) > 0 {
			bk.jobs = jobs
			out = append(out, bk)
		}
	}
	b.queue = out
	b.rearm()
}

// rearm re-points the single pending timer at the nearest bucket, cancelling
// any previous timer. It is the only place a timer is created, preserving
// the "exactly one pending timer" invariant.
func (b *ExecutionBroadcaster) rearm() {
	b.stopTimer()
	if len(b.queue) == 0 {
		return
	}
	d := b.queue[0].at.Sub(stripLocation(b.clock.Now()))
	if d < 0 {
		d = 0
	}
	b.timer = b.clock.Timer(d)
}

func (b *ExecutionBroadcaster) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// fire pops the head bucket, advances the watermark, emits an ExecuteEvent
// per job, reschedules each job's next occurrence, and re-arms the timer.
func (b *ExecutionBroadcaster) fire(ctx context.Context, now time.Time) error {
	if len(b.queue) == 0 {
		return nil
	}
	head := b.queue[0]
	b.queue = b.queue[1:]

	if head.at.Before(b.watermark) {
		panic(JobInPast{JobName: head.jobs[0].Name, Watermark: b.watermark, Computed: head.at})
	}
	b.watermark = head.at.Add(time.Second)
	if err := b.storage.UpdateLastExecutionDate(ctx, b.watermark); err != nil {
		return fmt.Errorf("chrono: persisting watermark: %w", err)
	}

	for _, j := range head.jobs {
		b.buffer.push(ExecuteEvent{Job: j.Clone()})
		if err := b.schedule(ctx, j); err != nil {
			return err
		}
	}
	b.rearm()
	return nil
}

type broadcasterCommand interface {
	apply(ctx context.Context, b *ExecutionBroadcaster) error
}

type demandBcastCmd struct{ n int }

func (c demandBcastCmd) apply(ctx context.Context, b *ExecutionBroadcaster) error {
	b.buffer.request(c.n)
	return nil
}

// broadcasterSnapshot is the hand-off payload for an ExecutionBroadcaster:
// the firing queue and the pending ExecuteEvent backlog (spec §4.2/§9).
type broadcasterSnapshot struct {
	watermark time.Time
	queue     []bucket
	pending   []Event
}

// BeginHandoff snapshots the firing queue, watermark, and pending buffer.
func (b *ExecutionBroadcaster) BeginHandoff(ctx context.Context) (broadcasterSnapshot, error) {
	reply := make(chan beginBcastHandoffReply, 1)
	select {
	case b.mailbox <- beginBcastHandoffCmd{reply: reply}:
	case <-b.done:
		return broadcasterSnapshot{}, ErrPipelineStopped
	}
	res := <-reply
	return res.snapshot, res.err
}

type beginBcastHandoffReply struct {
	snapshot broadcasterSnapshot
	err      error
}

type beginBcastHandoffCmd struct {
	reply chan beginBcastHandoffReply
}

func (c beginBcastHandoffCmd) apply(ctx context.Context, b *ExecutionBroadcaster) error {
	q := make([]bucket, len(b.queue))
	copy(q, b.queue)
	c.reply <- beginBcastHandoffReply{snapshot: broadcasterSnapshot{
		watermark: b.watermark,
		queue:     q,
		pending:   b.buffer.pending(),
	}}
	return nil
}

// EndHandoff merges an incoming snapshot: the watermark becomes the minimum
// of local and incoming (never regressing firings that already happened
// locally further than necessary), firings are recomputed for every job in
// the incoming queue from that merged watermark, and the incoming pending
// backlog is appended after the local one (spec §4.2/§9).
func (b *ExecutionBroadcaster) EndHandoff(ctx context.Context, snap broadcasterSnapshot) error {
	reply := make(chan error, 1)
	return b.send(endBcastHandoffCmd{ctx: ctx, snap: snap, reply: reply}, reply)
}

// ResolveConflict is an alias for EndHandoff's merge semantics.
func (b *ExecutionBroadcaster) ResolveConflict(ctx context.Context, snap broadcasterSnapshot) error {
	return b.EndHandoff(ctx, snap)
}

type endBcastHandoffCmd struct {
	ctx   context.Context
	snap  broadcasterSnapshot
	reply chan error
}

func (c endBcastHandoffCmd) apply(ctx context.Context, b *ExecutionBroadcaster) error {
	merged := b.watermark
	if c.snap.watermark.Before(merged) {
		merged = c.snap.watermark
	}
	b.watermark = merged
	if err := b.storage.UpdateLastExecutionDate(c.ctx, b.watermark); err != nil {
		c.reply <- err
		return err
	}

	var errs errutils.MultiError
	for _, bk := range c.snap.queue {
		for _, j := range bk.jobs {
			if err := b.schedule(c.ctx, j); err != nil {
				errs.Add(err)
			}
		}
	}
	b.buffer.appendAll(c.snap.pending)
	if errs.HasErrors() {
		c.reply <- &errs
		return &errs
	}
	c.reply <- nil
	return nil
}

// Die performs the clean-stop path of the hand-off protocol.
func (b *ExecutionBroadcaster) Die() {
	select {
	case <-b.done:
	default:
		b.stopTimer()
		close(b.done)
	}
}
