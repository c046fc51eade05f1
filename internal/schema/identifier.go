// Package schema describes response fields: their entity dimensions, their
// per-subset storage bindings and the dense index each field occupies in a
// respondent's value slots.
package schema

import (
	"strings"
	"unicode"

	"surveycore/pkg/domain"
)

// Identifier converts a field name into a valid expression identifier.
// Characters outside [A-Za-z0-9_] become underscores and a leading digit is
// prefixed with one.
func Identifier(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		if i == 0 && unicode.IsDigit(r) {
			b.WriteByte('_')
		}
		if r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// lookupKey is the case-insensitive key fields are registered under.
func lookupKey(name string) string {
	return domain.FoldIdentifier(Identifier(name))
}
