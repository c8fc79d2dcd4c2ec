package chrono

import "time"

// JobState is the activation state of a Job. Only active jobs produce
// downstream execute events.
type JobState int

const (
	// StateActive indicates the job participates in scheduling.
	StateActive JobState = iota
	// StateInactive indicates the job is kept in the catalog but does not fire.
	StateInactive
)

// String returns the string representation of a JobState.
func (s JobState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Schedule is the cron-like expression attached to a Job. The expression
// itself is opaque to the core; it is only ever handed to a CronEvaluator.
// Reboot jobs bypass the firing queue entirely and fire once, immediately,
// when they are added (see ExecutionBroadcaster.schedule).
type Schedule struct {
	// Expr is the cron-like expression, consumed only through CronEvaluator.
	Expr string
	// Reboot marks a job that should run once on registration/hot-join
	// instead of on a recurring cron rhythm.
	Reboot bool
}

// Job is a single scheduled unit of work. The core forwards Payload
// uninterpreted; it never inspects it.
type Job struct {
	// Name uniquely identifies the job within a scheduler instance.
	Name string
	// Sched is the job's cron-like schedule.
	Sched Schedule
	// Timezone is an IANA zone identifier, or "UTC".
	Timezone string
	// State is the job's activation state.
	State JobState
	// Payload is opaque additional data (task body, overlap policy, etc.)
	// that the core forwards but never interprets.
	Payload []byte
}

// Clone returns a deep-enough copy of the Job so that callers can retain a
// reference without risking mutation through a shared pointer (the same
// "store a copy" discipline teacher's InMemoryStorage uses for JobRecord).
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Payload != nil {
		cp.Payload = make([]byte, len(j.Payload))
		copy(cp.Payload, j.Payload)
	}
	return &cp
}

// bucket is one entry in the ExecutionBroadcaster's firing queue: a single
// instant and the set of jobs due to fire at that instant. Jobs are kept in
// a slice rather than a set because insertion order matters (§5: emission
// order equals insertion order, most recently inserted first).
type bucket struct {
	at   time.Time
	jobs []*Job
}
