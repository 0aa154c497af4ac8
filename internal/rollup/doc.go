// Package rollup builds the gold aggregates from canonical trades.
//
// The pure functions (BuildCandle, RollupCandles, BuildDailyKPI, Movers and the
// Merge functions) hold all arithmetic. Engine drives them against the stores.
//
// Hourly candles are rolled up from the stored 1-minute candles, so an hourly
// open/close is only as correct as the minute rows beneath it. Engine.Run
// therefore always rebuilds 1m, then 1h, then daily, in that order. Callers that
// rebuild buckets directly must preserve the same ordering.
//
// Values are rounded to the precision of their columns (vwap 8 dp, percentage
// change 4 dp) before comparison, so re-running over an unchanged bucket yields
// an identical row and no write.
package rollup
