// Package database provides the PostgreSQL connection pool and schema migrations.
//
// All layers share one database:
//   - raw_events: bronze, append-only feed payloads
//   - trades, quarantined_records: silver
//   - candles_1m, candles_1h, daily_kpis, top_movers: gold
//   - pipeline_runs, dq_check_results, watermarks: bookkeeping
//
// NUMERIC columns are decoded into shopspring decimals on every pooled connection.
package database
