package ingest

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// messageEnvelope extracts the fields the Batcher needs without a full parse.
type messageEnvelope struct {
	Type    string          `json:"type"`
	Time    json.RawMessage `json:"time"`
	Message string          `json:"message"` // Set on "error" frames
	Reason  string          `json:"reason"`
}

// Canonicalize re-encodes a JSON document with sorted object keys, compact
// separators and numbers kept as written.
func Canonicalize(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fingerprint returns the SHA-1 hex digest of the canonical payload. Payloads
// that differ only in key order or whitespace share a fingerprint.
func Fingerprint(payload []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// parseEventTime reads the payload "time" field. Absent, null or unparseable
// values yield nil.
func parseEventTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
