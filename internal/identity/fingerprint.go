// Package identity derives stable fingerprints from task inputs.
//
// Two producers racing to enqueue the same piece of work must agree on
// its identity byte for byte, so the fingerprint is taken over a
// canonical JSON form rather than over whatever bytes arrived on the
// wire.
package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned for a missing, null or empty task input.
var ErrEmptyInput = errors.New("task input is empty")

// Fingerprint returns the lowercase SHA-256 hex digest of the canonical
// JSON form of the input: object keys sorted at every depth, no
// insignificant whitespace, numeric literals preserved as written.
func Fingerprint(input json.RawMessage) (string, error) {
	canon, err := Canonicalize(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize re-encodes a JSON document into its canonical form.
// Decoding goes through json.Number so that numeric literals survive the
// round trip unchanged, and map keys are emitted in sorted order by the
// encoder.
func Canonicalize(input json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) ||
		bytes.Equal(trimmed, []byte("{}")) {
		return nil, ErrEmptyInput
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode task input: %w", err)
	}
	// Reject trailing garbage after the first document.
	if dec.More() {
		return nil, errors.New("task input contains trailing data")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode canonical form: %w", err)
	}
	// Encode appends a newline; the digest must not include it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
