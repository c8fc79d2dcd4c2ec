package chrono

import "github.com/chronosched/chronosched/collections"

// Event is the demand-delivered output of a pipeline stage. JobRegistry
// emits AddEvent/RemoveEvent; ExecutionBroadcaster emits ExecuteEvent.
type Event interface {
	isEvent()
}

// AddEvent announces that a job was inserted or updated into an active state.
type AddEvent struct {
	Job *Job
}

func (AddEvent) isEvent() {}

// RemoveEvent announces that a job left the active set (deleted, deactivated,
// or purged).
type RemoveEvent struct {
	Name string
}

func (RemoveEvent) isEvent() {}

// ExecuteEvent announces that a job is due for execution right now.
type ExecuteEvent struct {
	Job *Job
}

func (ExecuteEvent) isEvent() {}

// demandBuffer is the demand-driven outbound buffer described in spec §5:
// a producer holds both an ordered FIFO backlog of undelivered events and
// the outstanding demand (events requested but not yet delivered). Events
// drain FIFO as soon as there is both backlog and demand. It is not safe for
// concurrent use — callers only ever touch it from the owning stage's single
// goroutine, per the actor model in §5/§9. The backlog itself is a
// collections.Queue so the FIFO/back-pressure discipline is enforced by the
// same generic collection teacher's lifecycle package uses for its own
// ordered bookkeeping, rather than a hand-rolled slice.
type demandBuffer struct {
	backlog collections.Queue[Event]
	demand  int
	out     chan<- Event
}

func newDemandBuffer(out chan<- Event) *demandBuffer {
	return &demandBuffer{
		backlog: collections.NewArrayQueue[Event](),
		out:     out,
	}
}

// request records additional outstanding demand and releases as much
// backlog as it can satisfy.
func (d *demandBuffer) request(n int) {
	if n <= 0 {
		return
	}
	d.demand += n
	d.drain()
}

// push appends a newly produced event to the backlog and releases it
// immediately if there is outstanding demand.
func (d *demandBuffer) push(e Event) {
	_ = d.backlog.Enqueue(e)
	d.drain()
}

// drain releases buffered events to out while both backlog and demand remain.
// Delivery blocks on a send to out; since out is a buffered channel sized
// generously by the pipeline, this only blocks the stage's own goroutine
// when the consumer is genuinely behind, which is the intended back-pressure.
func (d *demandBuffer) drain() {
	for d.demand > 0 && !d.backlog.IsEmpty() {
		e, err := d.backlog.Dequeue()
		if err != nil {
			return
		}
		d.demand--
		d.out <- e
	}
}

// pending reports the buffered, undelivered events in FIFO order (used by
// hand-off snapshotting).
func (d *demandBuffer) pending() []Event {
	out := make([]Event, 0, d.backlog.Size())
	for it := d.backlog.Iterator(); it.HasNext(); {
		out = append(out, it.Next())
	}
	return out
}

// appendAll pushes a batch of events already in FIFO order onto the back of
// the backlog (used by end_handoff/resolve_conflict to splice an incoming
// buffer after the local one).
func (d *demandBuffer) appendAll(events []Event) {
	for _, e := range events {
		d.push(e)
	}
}
