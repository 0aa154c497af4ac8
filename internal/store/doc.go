// Package store defines the storage contracts shared by the pipeline stages.
//
// Every table has exactly one owning writer:
//   - raw_events: ingest.Batcher (append)
//   - trades, quarantined_records: dedup.Deduplicator (insert-if-absent)
//   - candles_1m, candles_1h, daily_kpis, top_movers: rollup.Engine (upsert, purge)
//   - pipeline_runs: pipeline.Runner
//   - dq_check_results: quality.Runner (append)
//
// Implementations: store/postgres (production) and store/memstore (tests).
package store
