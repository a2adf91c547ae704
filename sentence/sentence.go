// Package sentence splits raw serial sentences into a routing identifier and
// a cleaned payload.
//
// A sentence such as "$GPGGA,123519,4807.038,N\r\n" yields the identifier
// "GPGGA" and the payload "$GPGGA,123519,4807.038,N". The identifier stays
// embedded in the payload.
package sentence

import "strings"

// Separator splits the identifier field from the rest of the sentence.
const Separator = ","

var (
	// identifierMarkers are deleted from the identifier wherever they occur.
	identifierMarkers = []string{"$", "%"}
	// lineEndings are deleted from the payload in this order, each as an
	// independent substring scan.
	lineEndings = []string{"\r", "\n", "\n\r", "\r\n"}
)

// Field is an optional string value.
type Field struct {
	Value string
	Valid bool
}

// Some returns a valid Field holding s.
func Some(s string) Field {
	return Field{Value: s, Valid: true}
}

// None is the absent Field.
var None = Field{}

// Present reports whether f is set and non-empty. An empty identifier or
// payload is treated the same as a missing one.
func (f Field) Present() bool {
	return f.Valid && f.Value != ""
}

// Parse extracts the identifier and payload from raw.
//
// Without a separator the identifier is None and raw is returned untouched as
// the payload. Otherwise the identifier is the first field with '$' and '%'
// removed, and the payload is raw with every '\r' and '\n' removed.
func Parse(raw string) (id Field, payload Field) {
	fields := strings.Split(raw, Separator)
	if len(fields) < 2 {
		return None, Some(raw)
	}
	return Some(StripMarkers(fields[0])), Some(StripLineEndings(raw))
}

// HasIdentifier reports whether raw carries a separator-delimited identifier field.
func HasIdentifier(raw string) bool {
	return strings.Contains(raw, Separator)
}

// StripMarkers deletes every marker character from s.
func StripMarkers(s string) string {
	for _, m := range identifierMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	return s
}

// StripLineEndings deletes every line-ending variant from s.
func StripLineEndings(s string) string {
	for _, e := range lineEndings {
		s = strings.ReplaceAll(s, e, "")
	}
	return s
}
