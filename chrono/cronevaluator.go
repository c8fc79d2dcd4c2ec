package chrono

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CronEvaluator is the external "next run after T" collaborator from spec
// §6. The cron expression parser is explicitly out of scope for the core
// (spec §1); this interface is the seam through which the core consumes it.
type CronEvaluator interface {
	// Next returns the next activation time strictly after from, or
	// ErrNoMatchingDate if the schedule has no future activation.
	Next(expr string, from time.Time) (time.Time, error)
}

// robfigParser is shared across all RobfigEvaluator instances: it is
// stateless and safe for concurrent use, matching robfig/cron/v3's own
// documented guarantees.
var robfigParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RobfigEvaluator is the default CronEvaluator, backed by robfig/cron/v3.
// It caches parsed schedules by expression text since the same job's
// expression is evaluated repeatedly across the life of the firing queue.
type RobfigEvaluator struct {
	mu    sync.Mutex
	cache map[string]cron.Schedule
}

// NewRobfigEvaluator creates a CronEvaluator backed by robfig/cron/v3.
func NewRobfigEvaluator() *RobfigEvaluator {
	return &RobfigEvaluator{cache: make(map[string]cron.Schedule)}
}

// Next returns the next activation strictly after from.
func (e *RobfigEvaluator) Next(expr string, from time.Time) (time.Time, error) {
	sched, err := e.parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, ErrNoMatchingDate
	}
	return next, nil
}

func (e *RobfigEvaluator) parse(expr string) (cron.Schedule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sched, ok := e.cache[expr]; ok {
		return sched, nil
	}
	sched, err := robfigParser.Parse(expr)
	if err != nil {
		return nil, ErrInvalidCronExpr
	}
	e.cache[expr] = sched
	return sched, nil
}

// BuiltinEvaluator is a dependency-free CronEvaluator, backed by the
// package's own hand-rolled standard 5-field parser (CronSchedule, below).
// Kept alongside RobfigEvaluator for deployments that want zero third-party
// cron dependencies; WithCronEvaluator lets callers choose either.
type BuiltinEvaluator struct {
	mu    sync.Mutex
	cache map[string]*CronSchedule
}

// NewBuiltinEvaluator creates a CronEvaluator backed by the package's own
// cron expression parser.
func NewBuiltinEvaluator() *BuiltinEvaluator {
	return &BuiltinEvaluator{cache: make(map[string]*CronSchedule)}
}

// Next returns the next activation strictly after from.
func (e *BuiltinEvaluator) Next(expr string, from time.Time) (time.Time, error) {
	e.mu.Lock()
	cs, ok := e.cache[expr]
	e.mu.Unlock()
	if !ok {
		var err error
		cs, err = NewCronSchedule(expr)
		if err != nil {
			return time.Time{}, err
		}
		e.mu.Lock()
		e.cache[expr] = cs
		e.mu.Unlock()
	}
	next := cs.Next(from)
	if next.IsZero() {
		return time.Time{}, ErrNoMatchingDate
	}
	return next, nil
}
