// Package ingest implements the Ingestion Batcher.
//
// The Batcher consumes feed frames, keeps only trade ("match") payloads and
// appends them to the raw event store in batches. A batch is flushed when it
// reaches BatchSize or every FlushInterval, whichever comes first. A failed
// flush keeps the batch for the next attempt; once BufferSize events are
// pending, new events are dropped and counted.
//
// Flushes are serialized so raw event ids become visible in commit order.
package ingest
