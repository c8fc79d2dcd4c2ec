package chrono

import (
	"errors"
	"time"
)

// Error sentinels for the scheduling core. Named and leveled the way the
// teacher package names its own (ErrJobNotFound, ErrInvalidCronExpr, ...).
var (
	// ErrJobNotFound is returned when a job with the given name does not exist.
	ErrJobNotFound = errors.New("chrono: job not found")
	// ErrJobAlreadyExists reports a name collision. Nothing in this package
	// returns it: AddJob and the hand-off merge both overwrite by name.
	ErrJobAlreadyExists = errors.New("chrono: job already exists")
	// ErrEmptyJobName is returned when a job is submitted with no name.
	ErrEmptyJobName = errors.New("chrono: job name cannot be empty")
	// ErrNotApplicable is returned by RegistryStorage.Jobs when the backend has
	// no opinion on the initial catalog (i.e. "not_applicable" in spec's
	// storage vocabulary): the caller-supplied seed list should be used instead.
	ErrNotApplicable = errors.New("chrono: storage has no persisted catalog")
	// ErrUnknownLastExecution reports that no watermark has ever been
	// persisted. The storage backends in this package do not return it:
	// BroadcasterStorage.LastExecutionDate reports that case with ok=false.
	ErrUnknownLastExecution = errors.New("chrono: last execution date is unknown")
	// ErrInvalidCronExpr is returned when a cron expression is malformed.
	ErrInvalidCronExpr = errors.New("chrono: invalid cron expression")
	// ErrNoMatchingDate is returned by a CronEvaluator when a schedule has no
	// future activation (e.g. an exhausted one-shot expression).
	ErrNoMatchingDate = errors.New("chrono: no matching date for schedule")
	// ErrInvalidZone is returned by a TZConverter when the zone identifier
	// itself cannot be resolved (as opposed to a valid zone rejecting a
	// particular instant — see ErrInvalidDateTimeForTimezone).
	ErrInvalidZone = errors.New("chrono: invalid timezone")
	// ErrInvalidDateTimeForTimezone is returned by a TZConverter when the zone
	// is valid but the given naive instant does not exist in it (a DST
	// spring-forward gap). An ambiguous (fall-back) instant is not reported;
	// StdTZConverter resolves it to one of its two offsets.
	ErrInvalidDateTimeForTimezone = errors.New("chrono: datetime invalid in timezone")
	// ErrPipelineRunning is returned when starting an already-running Pipeline.
	ErrPipelineRunning = errors.New("chrono: pipeline already running")
	// ErrPipelineStopped is returned when operating on a non-running Pipeline.
	ErrPipelineStopped = errors.New("chrono: pipeline not running")
)

// JobInPast is a fatal invariant violation: the ExecutionBroadcaster computed
// a firing instant strictly before its own watermark, which would produce an
// infinite firing loop. Per spec §4.2/§7, this must crash the stage so its
// supervisor can restart it with a fresh watermark — it is raised as a panic
// value rather than returned as an error, and is only ever recovered by the
// stage's supervisor (see Pipeline), never by the stage itself.
type JobInPast struct {
	JobName string
	Watermark time.Time
	Computed  time.Time
}

func (e JobInPast) Error() string {
	return "chrono: computed firing for job " + e.JobName + " is before the watermark"
}
