package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var slugReplacer = strings.NewReplacer(" ", "-", ".", "")

// Slugify lowers, deburrs and dash-joins a title the same way stored
// slugs are written: spaces become dashes, dots are dropped, anything
// else non-alphanumeric becomes a dash.
func Slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	value = deburr(value)
	value = slugReplacer.Replace(value)
	var b strings.Builder
	lastDash := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case lastDash:
			// collapse runs of separators
		default:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// deburr strips combining marks so "café" slugs as "cafe".
func deburr(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return out
}

// Capitalize upper-cases the first rune of a word.
func Capitalize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	r := []rune(value)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// SplitName breaks a free-text display name into first and last parts.
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	if i := strings.Index(name, " "); i >= 0 {
		return name[:i], strings.TrimSpace(name[i+1:])
	}
	return name, ""
}

// Pluralize appends an s for counts other than one.
func Pluralize(count int, word string) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
