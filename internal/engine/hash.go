package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashPayload computes the canonical content hash of an execution
// payload. The payload is marshaled, decoded back into generic values
// and marshaled again: the round trip turns structs into maps and the
// second pass emits object keys sorted at every depth, so the digest is
// stable across process restarts and map insertion orders. Timestamps
// serialize as ISO-8601 on the first pass; numeric literals survive the
// round trip verbatim.
func HashPayload(payload interface{}) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashFactor fingerprints a (factor_key, value) pair so re-consolidation
// that yields the identical value is detectable as a no-op.
func HashFactor(key string, value interface{}) (string, error) {
	return HashPayload(map[string]interface{}{
		"factor_key": key,
		"value":      value,
	})
}

// ShortHash returns the 16-hex prefix used to fingerprint workflow log
// payloads. Empty payloads fingerprint as the empty string.
func ShortHash(payload interface{}) string {
	if payload == nil {
		return ""
	}
	h, err := HashPayload(payload)
	if err != nil {
		return ""
	}
	return h[:16]
}

func canonicalJSON(v interface{}) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}
