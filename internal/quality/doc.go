// Package quality evaluates the data-quality check battery.
//
// Each Runner.Run evaluates every check once and appends one DQCheckResult per
// check, all sharing a short run id. Checks report; they never block the
// pipeline. A check whose query fails is recorded as failed with the error in
// its details.
package quality
