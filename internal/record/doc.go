// Package record defines the canonical character-profile record and every
// rule that derives something from it: schema and identity validation,
// three-tier identity promotion, name canonicalization, the content hash,
// and the inspected/stored filename conventions.
//
// Identity is three-tiered. The origin UUID (32 hex) is optional and kept in
// its raw form once established. The intermediate ID (16 hex, grouped
// xxxx-xxxx-xxxx-xxxx) always exists and is derived once at normalization.
// The content hash is an MD5 over the record with header and processed_at
// removed and keys sorted, and is the authoritative deduplication key.
package record
