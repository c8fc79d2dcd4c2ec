// Package chronosched is a cron-like job scheduling core: a JobRegistry
// holding the catalog of jobs and an ExecutionBroadcaster turning cron
// expressions into a demand-driven stream of ExecuteEvent, wired together by
// a Pipeline. See the chrono sub-package for the implementation.
//
// chronosched also carries a set of supporting utility packages (logging,
// configuration, codec, collections, messaging, lifecycle supervision)
// reused by chrono and importable independently:
//
//	import "github.com/chronosched/chronosched/chrono"     // job registry, broadcaster, pipeline
//	import "github.com/chronosched/chronosched/l3"         // logging
//	import "github.com/chronosched/chronosched/codec"      // encoding/decoding (JSON, XML, YAML)
//	import "github.com/chronosched/chronosched/config"     // application configuration
//	import "github.com/chronosched/chronosched/messaging"  // generic messaging API, used for cluster hand-off
//	import "github.com/chronosched/chronosched/lifecycle"  // component supervision
//
// For a complete list of packages and documentation, see:
// https://pkg.go.dev/github.com/chronosched/chronosched
package chronosched
