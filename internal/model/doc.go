// Package model defines shared data types used across the trade pipeline.
//
// All types mirror the database schema created by the migrations in internal/database.
//
// Conventions:
//   - Prices, sizes and volumes: decimal.Decimal (NUMERIC in Postgres), never float64
//   - Timestamps: time.Time in UTC
//   - Trade IDs: int64 natural keys from the exchange
//   - Raw event IDs: int64 surrogate keys assigned by the store, monotonic by arrival
package model
