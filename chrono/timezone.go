package chrono

import "time"

// TZConverter is the timezone collaborator from spec §6. Schedules store a
// timezone identifier and a naive (zone-less) cron expression; the broadcaster
// converts between that local frame and the naive-UTC frame it keeps its
// watermark and firing queue in.
//
// No IANA timezone library appears anywhere across the retrieval pack, so
// this seam's default implementation is backed by the standard library's own
// tzdata support (time.LoadLocation) rather than a third-party package; see
// DESIGN.md for the full justification.
type TZConverter interface {
	// ToLocal converts a naive UTC instant into the naive wall-clock instant
	// it represents in zone.
	ToLocal(utc time.Time, zone string) (time.Time, error)
	// ToUTC converts a naive wall-clock instant in zone into naive UTC.
	// Returns ErrInvalidDateTimeForTimezone if local does not exist in zone
	// (a DST spring-forward gap).
	ToUTC(local time.Time, zone string) (time.Time, error)
}

// StdTZConverter is the default TZConverter, backed by time.LoadLocation.
type StdTZConverter struct{}

// NewStdTZConverter creates a TZConverter backed by the standard library's
// tzdata support.
func NewStdTZConverter() StdTZConverter {
	return StdTZConverter{}
}

// ToLocal converts a naive UTC instant into the naive wall-clock instant it
// represents in zone.
func (StdTZConverter) ToLocal(utc time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, ErrInvalidZone
	}
	naiveUTC := time.Date(utc.Year(), utc.Month(), utc.Day(), utc.Hour(), utc.Minute(), utc.Second(), utc.Nanosecond(), time.UTC)
	t := naiveUTC.In(loc)
	return stripLocation(t), nil
}

// ToUTC converts a naive wall-clock instant in zone into naive UTC. A local
// instant that falls in a DST spring-forward gap does not round-trip back to
// itself through the offset the standard library picks for it; that
// mismatch is how this implementation detects ErrInvalidDateTimeForTimezone,
// since the standard library itself never reports the gap directly.
func (StdTZConverter) ToUTC(local time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, ErrInvalidZone
	}
	candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	roundTrip := candidate.In(loc)
	if roundTrip.Hour() != local.Hour() || roundTrip.Minute() != local.Minute() || roundTrip.Day() != local.Day() {
		return time.Time{}, ErrInvalidDateTimeForTimezone
	}
	return stripLocation(candidate.UTC()), nil
}

// stripLocation rebuilds t as a naive instant tagged UTC, discarding the
// original location so downstream comparisons never trip on *time.Location
// identity.
func stripLocation(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
