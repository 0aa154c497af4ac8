// Package pipeline runs the batch stages and records their lifecycles.
//
// Runner.Execute wraps one Stage invocation in a PipelineRun: the run is
// created as running and finished as success or failed with the stage's record
// count and error. Scheduler chains dedup, rollup and quality on an interval,
// retrying failed stages and collapsing overlapping invocations of the same
// stage.
//
// Stage order is fixed: rollup only starts after dedup succeeded, and the
// rollup engine itself rebuilds 1m before 1h before daily.
package pipeline
