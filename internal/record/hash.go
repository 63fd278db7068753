package record

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"animdb/internal/services"
)

// volatileKeys never contribute to the content hash.
var volatileKeys = []string{"header", "processed_at"}

// ContentHash returns the MD5 hex digest of the JSON object in data after
// dropping header and processed_at and sorting keys at every depth.
func ContentHash(data []byte) (string, error) {
	canonical, err := CanonicalPayload(data)
	if err != nil {
		return "", err
	}
	return digest(canonical), nil
}

// CanonicalPayload returns the hashed byte form of a record.
func CanonicalPayload(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, services.Wrap(services.ErrParseFailure, "", "canonicalize", "record is not a JSON object", err)
	}
	if doc == nil {
		return nil, services.Wrap(services.ErrMalformedRecord, "", "canonicalize", "record is null", nil)
	}
	return canonicalize(doc)
}

func canonicalize(doc map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(doc))
	for key, value := range doc {
		payload[key] = value
	}
	for _, key := range volatileKeys {
		delete(payload, key)
	}
	// encoding/json writes map keys in sorted order, which sorts nested
	// objects too.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode canonical payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func digest(canonical []byte) string {
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}
