// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed message rates, drops and reconnects
//   - Ingest batch flushes, latencies and buffer overflow
//   - Dedup throughput, duplicates and quarantine reasons
//   - Rollup rows written per table
//   - Stage run outcomes and durations
//   - Latest data-quality check state
package metrics
