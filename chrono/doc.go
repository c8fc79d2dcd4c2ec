// Package chrono is the scheduling core of a cron-like job scheduler.
//
// It is a two-stage producer/consumer pipeline:
//
//   - JobRegistry holds the authoritative catalog of jobs and turns
//     add/remove/activate/deactivate/purge commands into a demand-released
//     stream of mutation events.
//   - ExecutionBroadcaster consumes that stream, keeps a single pending
//     timer armed for the nearest firing, and emits execute events when
//     jobs come due.
//
// The cron expression parser, the executor that runs a job's payload, and
// the cluster-membership layer that triggers hand-off are all external
// collaborators reached only through the interfaces in this package.
package chrono
