package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"animdb/internal/services"
)

// Raw is a producer payload decoded into generic JSON values.
type Raw map[string]any

// ParseRaw decodes a producer payload. Anything other than a JSON object is a
// parse failure.
func ParseRaw(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, services.Wrap(services.ErrParseFailure, "", "parse payload", "payload is not a JSON object", err)
	}
	if raw == nil {
		return nil, services.Wrap(services.ErrParseFailure, "", "parse payload", "payload is null", nil)
	}
	return Raw(raw), nil
}

// Identifiable reports whether the payload carries a name or a header id,
// the minimum needed to attempt reconstruction.
func (r Raw) Identifiable() bool {
	if v, ok := r["name"]; ok && v != nil {
		return true
	}
	if header, ok := r["header"].(map[string]any); ok {
		if v, ok := header["id"]; ok && v != nil {
			return true
		}
	}
	return false
}

// lookup returns header[key] when set, otherwise the top-level key.
func (r Raw) lookup(key string) any {
	if header, ok := r["header"].(map[string]any); ok {
		if v, ok := header[key]; ok && v != nil {
			return v
		}
	}
	if v, ok := r[key]; ok && v != nil {
		return v
	}
	return nil
}

func (r Raw) first(keys ...string) any {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Reconstruct validates a raw payload and rebuilds it in canonical shape:
// schema checked, identity resolved, name and work canonicalized, optional
// containers defaulted, processed_at stamped with now.
func (v *Validator) Reconstruct(raw Raw, now time.Time) (Record, error) {
	schema, _ := scalar(raw.lookup("schema"))
	if !v.SchemaMatches(schema) {
		return Record{}, services.Wrap(services.ErrInvalidSchema, "", "validate record",
			fmt.Sprintf("schema %q does not match %s_v<d>.<dddd>.<dd>", schema, v.family), nil)
	}

	rawUUID, _ := scalar(raw.lookup("uuid"))
	rawID, _ := scalar(raw.lookup("id"))
	identity := ResolveIdentity(rawUUID, rawID)

	generatedAt, ok := scalar(raw.lookup("generated_at"))
	if !ok || strings.TrimSpace(generatedAt) == "" {
		generatedAt = now.Format(time.RFC3339)
	}
	variant, _ := scalar(raw.lookup("variant"))

	name, err := textField(raw, "name")
	if err != nil {
		return Record{}, err
	}
	work, err := textField(raw, "work")
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Header: Header{
			Schema:      schema,
			UUID:        identity.OriginUUID,
			ID:          identity.ID,
			GeneratedAt: generatedAt,
			Variant:     CanonicalText(variant),
		},
		Name:        name,
		Work:        work,
		ProcessedAt: now.Format(time.RFC3339),
	}
	if rec.Profile, err = container(raw.first("profile"), "profile"); err != nil {
		return Record{}, err
	}
	if rec.Rating, err = container(raw.first("rating"), "rating"); err != nil {
		return Record{}, err
	}
	if tags, ok := raw.first("tags").([]any); ok {
		if rec.Tags, err = container(tags, "tags"); err != nil {
			return Record{}, err
		}
	}
	if rec.FreeformAttributes, err = container(raw.first("freeform_attributes", LegacyFreeformKey), "freeform_attributes"); err != nil {
		return Record{}, err
	}
	rec.fillDefaults()

	if err := v.Check(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func textField(raw Raw, key string) (string, error) {
	value := raw.first(key)
	if value == nil {
		return Unknown, nil
	}
	text, ok := scalar(value)
	if !ok {
		return "", services.Wrap(services.ErrMalformedRecord, "", "validate record", key+" must be a string", nil)
	}
	text = CanonicalText(text)
	if text == "" {
		return Unknown, nil
	}
	return text, nil
}

// scalar renders strings, numbers and booleans as text.
func scalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func container(value any, key string) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, services.Wrap(services.ErrMalformedRecord, "", "validate record", "encode "+key, err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
