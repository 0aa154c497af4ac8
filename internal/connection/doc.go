// Package connection maintains the market-data websocket.
//
// A Client wraps one gorilla/websocket connection with ping/pong staleness
// detection. A Feed owns one subscription (a product set on one channel):
//   - Connects and sends the subscribe request
//   - Reconnects with exponential backoff on read errors or stale connections
//   - Resubscribes after every reconnect
//   - Forwards every received frame, stamped with its local receive time
//
// Messages published while disconnected are not recovered.
package connection
