package record

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// InspectedTimeLayout formats the timestamp component of inspected filenames.
// It contains no underscore so the component split stays unambiguous.
const InspectedTimeLayout = "060102-150405"

var hostile = strings.NewReplacer(
	"/", "-", `\`, "-", "?", "-", "%", "-", "*", "-",
	":", "-", "|", "-", `"`, "-", "<", "-", ">", "-",
)

// Sanitize replaces path-hostile characters with "-".
func Sanitize(value string) string {
	return hostile.Replace(value)
}

// CanonicalText trims value, composes it to NFC, and folds full-width and
// half-width variants to their canonical width.
func CanonicalText(value string) string {
	return strings.TrimSpace(width.Fold.String(norm.NFC.String(value)))
}

// EntityKey joins the sanitized work and name.
func EntityKey(work, name string) string {
	return Sanitize(work) + "_" + Sanitize(name)
}

// InspectedFileName builds "{work}_{name}_{timestamp}_{segment}.json".
func InspectedFileName(rec Record, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.json",
		Sanitize(rec.Work), Sanitize(rec.Name), at.Format(InspectedTimeLayout), Segment(rec.Header.ID))
}

// StoredFileName builds "{work}_{name}_{variant}_{hash}.json". A blank
// variant becomes DefaultVariant.
func StoredFileName(work, name, variant, hash string) string {
	if strings.TrimSpace(variant) == "" {
		variant = DefaultVariant
	}
	return fmt.Sprintf("%s_%s_%s_%s.json", Sanitize(work), Sanitize(name), Sanitize(variant), hash)
}

// InspectedName is the parsed form of an inspected filename.
type InspectedName struct {
	Prefix    string
	Timestamp string
	Segment   string
}

// ParseInspectedName splits an inspected filename into its components. The
// timestamp and segment are the two right-most components; everything before
// them is the lossy work/name prefix. ok is false when fewer than four
// components exist.
func ParseInspectedName(fileName string) (InspectedName, bool) {
	base := strings.TrimSuffix(fileName, ".json")
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return InspectedName{}, false
	}
	n := len(parts)
	return InspectedName{
		Prefix:    strings.Join(parts[:n-2], "_"),
		Timestamp: parts[n-2],
		Segment:   parts[n-1],
	}, true
}
