package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"animdb/internal/services"
)

// Document is a normalized record decoded into generic JSON values. The
// router and committer work on documents so keys outside the canonical
// shape, such as LegacyFreeformKey in older stores, survive a rewrite and
// count toward the content hash.
type Document map[string]any

// Decode parses a stored or inspected record.
func Decode(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, services.Wrap(services.ErrParseFailure, "", "decode record", "record is not a JSON object", err)
	}
	d := Document(doc)
	if d.text("name") == "" && d.text("work") == "" && d.headerText("id") == "" {
		return nil, services.Wrap(services.ErrMalformedRecord, "", "decode record", "record has no name, work or id", nil)
	}
	return d, nil
}

// Name returns the record name, or Unknown.
func (d Document) Name() string {
	return orUnknown(d.text("name"))
}

// Work returns the record work, or Unknown.
func (d Document) Work() string {
	return orUnknown(d.text("work"))
}

// Variant returns header.variant, or DefaultVariant.
func (d Document) Variant() string {
	if v := d.headerText("variant"); v != "" {
		return v
	}
	return DefaultVariant
}

// EntityKey returns the registry key of the document's (work, name) pair.
func (d Document) EntityKey() string {
	return EntityKey(d.Work(), d.Name())
}

// FileName returns the stored filename for hash.
func (d Document) FileName(hash string) string {
	return StoredFileName(d.Work(), d.Name(), d.Variant(), hash)
}

// ContentHash hashes every key except header and processed_at.
func (d Document) ContentHash() (string, error) {
	canonical, err := canonicalize(d)
	if err != nil {
		return "", err
	}
	return digest(canonical), nil
}

// SetHash records hash under header.hash, leaving every other key as is.
func (d Document) SetHash(hash string) {
	header, ok := d["header"].(map[string]any)
	if !ok {
		header = map[string]any{}
		d["header"] = header
	}
	header["hash"] = hash
}

// Encode renders the document as indented JSON without HTML escaping.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any(d)); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func (d Document) text(key string) string {
	value, _ := scalar(d[key])
	return strings.TrimSpace(value)
}

func (d Document) headerText(key string) string {
	header, ok := d["header"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := scalar(header[key])
	return strings.TrimSpace(value)
}

func orUnknown(value string) string {
	if value == "" {
		return Unknown
	}
	return value
}
