package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Unknown is the placeholder for a missing name or work.
const Unknown = "Unknown"

// DefaultVariant fills the variant slot of stored filenames.
const DefaultVariant = "Default"

// LegacyFreeformKey is the original key for freeform attributes, still
// accepted from producers.
const LegacyFreeformKey = "性格パラメーター"

// Header carries schema and identity bookkeeping. It is excluded from the
// content hash.
type Header struct {
	Schema      string `json:"schema" validate:"required,schema_tag"`
	UUID        string `json:"uuid" validate:"omitempty,origin_uuid"`
	ID          string `json:"id" validate:"required,intermediate_id"`
	GeneratedAt string `json:"generated_at"`
	Variant     string `json:"variant,omitempty" validate:"omitempty,max=64"`
	Hash        string `json:"hash,omitempty" validate:"omitempty,len=32,hexadecimal"`
}

// Record is the canonical normalized document.
type Record struct {
	Header             Header          `json:"header"`
	Name               string          `json:"name" validate:"required,max=256"`
	Work               string          `json:"work" validate:"required,max=256"`
	Profile            json.RawMessage `json:"profile"`
	Rating             json.RawMessage `json:"rating"`
	Tags               json.RawMessage `json:"tags"`
	FreeformAttributes json.RawMessage `json:"freeform_attributes"`
	ProcessedAt        string          `json:"processed_at"`
}

// Encode renders the record as indented JSON without HTML escaping.
func Encode(rec Record) ([]byte, error) {
	rec.fillDefaults()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Record) fillDefaults() {
	if strings.TrimSpace(r.Name) == "" {
		r.Name = Unknown
	}
	if strings.TrimSpace(r.Work) == "" {
		r.Work = Unknown
	}
	r.Profile = orEmpty(r.Profile, "{}")
	r.Rating = orEmpty(r.Rating, "{}")
	r.Tags = orEmpty(r.Tags, "[]")
	r.FreeformAttributes = orEmpty(r.FreeformAttributes, "{}")
}

func orEmpty(raw json.RawMessage, fallback string) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(fallback)
	}
	return raw
}
