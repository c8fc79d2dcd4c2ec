package chrono

import (
	"context"
	"time"
)

// BroadcasterStorage is the durable-persistence collaborator for
// ExecutionBroadcaster (spec §6): it persists exactly one scalar, the
// watermark, so the stage can resume correctly across process restarts.
type BroadcasterStorage interface {
	// LastExecutionDate returns the persisted watermark. ok is false if no
	// watermark has ever been persisted (the stage then seeds from the
	// current wall clock).
	LastExecutionDate(ctx context.Context) (t time.Time, ok bool, err error)
	// UpdateLastExecutionDate persists a new watermark. The caller performs
	// this synchronously before emitting any execute events for the fired
	// bucket, per spec §4.2 step 1.
	UpdateLastExecutionDate(ctx context.Context, t time.Time) error
}
