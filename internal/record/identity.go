package record

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var nonHex = regexp.MustCompile(`[^a-fA-F0-9]`)

// Identity is the resolved identity of a raw record.
type Identity struct {
	// OriginUUID is the raw uuid/id value when it held 32 hex characters.
	OriginUUID string
	// ID is the intermediate ID, grouped xxxx-xxxx-xxxx-xxxx.
	ID string
	// Minted reports that no usable input existed and ID was generated.
	Minted bool
}

// CleanHex strips every non-hex character.
func CleanHex(value string) string {
	return nonHex.ReplaceAllString(value, "")
}

// ResolveIdentity applies the promotion rules in order:
//  1. uuid with 32 hex: origin UUID (raw), ID from its first 16 hex
//  2. id with 32 hex: origin UUID (raw), ID from its first 16 hex
//  3. uuid with 16 hex: ID, no origin UUID
//  4. id with at least 16 hex: ID from its first 16 hex
//  5. otherwise a freshly minted ID
func ResolveIdentity(rawUUID, rawID string) Identity {
	rawUUID = strings.TrimSpace(rawUUID)
	rawID = strings.TrimSpace(rawID)
	cleanUUID := CleanHex(rawUUID)
	cleanID := CleanHex(rawID)

	switch {
	case len(cleanUUID) == 32:
		return Identity{OriginUUID: rawUUID, ID: FormatID(cleanUUID[:16])}
	case len(cleanID) == 32:
		return Identity{OriginUUID: rawID, ID: FormatID(cleanID[:16])}
	case len(cleanUUID) == 16:
		return Identity{ID: FormatID(cleanUUID)}
	case len(cleanID) >= 16:
		return Identity{ID: FormatID(cleanID[:16])}
	default:
		return Identity{ID: MintID(), Minted: true}
	}
}

// FormatID groups 16 hex characters as xxxx-xxxx-xxxx-xxxx.
func FormatID(hex16 string) string {
	if len(hex16) != 16 {
		return hex16
	}
	return hex16[0:4] + "-" + hex16[4:8] + "-" + hex16[8:12] + "-" + hex16[12:16]
}

// MintID returns a random intermediate ID.
func MintID() string {
	return FormatID(randomHex(16))
}

// Segment returns hex characters 13-16 (1-based) of the intermediate ID, or
// a random 4-hex value when the ID is too short.
func Segment(id string) string {
	clean := strings.ToLower(CleanHex(id))
	if len(clean) >= 16 {
		return clean[12:16]
	}
	return randomHex(4)
}

func randomHex(n int) string {
	out := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(out) < n {
		out += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return out[:n]
}
