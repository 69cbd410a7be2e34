// Package metrics exposes broker activity as Prometheus collectors served
// at /metrics. Message counters are labeled by topic or subscription so an
// operator can see per-resource throughput without querying Postgres; sweep
// counters are labeled by sweep name.
//
// # Concurrency
//
// All Record* and Set* functions are safe for concurrent use; they delegate
// directly to prometheus client collectors, which are themselves
// goroutine-safe. InitPrometheus must be called once at startup before any
// Record* call, otherwise the calls are silently dropped.
package metrics

import "time"

var startTime = time.Now()

// StartTime returns when the metrics subsystem was initialized, used for the
// uptime gauge.
func StartTime() time.Time {
	return startTime
}
