// Package dedup implements the Validator/Deduplicator.
//
// Raw events are read in id order after the "dedup" watermark. Each event is
// either promoted to a Trade (insert-if-absent by trade_id) or quarantined with
// the first failing reason (insert-if-absent by source_raw_id). The watermark
// advances only after both writes succeed, so an interrupted run is repeated
// without effect.
//
// Validation precedence, first failure wins:
//
//	payload not a JSON object    unknown
//	trade_id absent              missing_trade_id
//	price absent                 missing_price
//	size absent                  missing_size
//	product_id absent            missing_product_id
//	side not buy/sell            invalid_side
//	malformed id/price/size/time unknown
//
// Null and empty-string values count as absent. Negative prices are accepted
// here and reported by the quality checks.
package dedup
