package columns

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const byteOrderMark = "\ufeff"

var folder = cases.Fold()

// Normalize folds a header, alias, title or term name into its comparable form:
// leading byte-order mark removed, case folded, every run of non-alphanumeric
// characters collapsed to one space, and the result trimmed.
func Normalize(raw string) string {
	raw = strings.TrimPrefix(raw, byteOrderMark)
	if raw == "" {
		return ""
	}
	folded := folder.String(norm.NFKC.String(raw))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// NormalizeAll normalizes every value and drops the ones that fold to nothing.
func NormalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if key := Normalize(value); key != "" {
			out = append(out, key)
		}
	}
	return out
}
