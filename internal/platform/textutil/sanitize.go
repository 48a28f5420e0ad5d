package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips any markup, NFC-normalises the result and collapses runs of whitespace
// into single spaces.
func CleanText(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(raw))
	normalised := norm.NFC.String(stripped)
	return strings.Join(strings.FieldsFunc(normalised, unicode.IsSpace), " ")
}

// DigitsOnly keeps the decimal digits of raw, dropping separators such as spaces, dots or dashes.
// A leading plus sign survives.
func DigitsOnly(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
