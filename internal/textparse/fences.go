// Package textparse turns untrusted model output into typed values.
//
// Every function here is total: callers get either a value or an error,
// never a panic, and the fallbacks are chosen by the caller.
package textparse

import (
	"regexp"
	"strings"
	"unicode"
)

var fenceRe = regexp.MustCompile("(?i)```(?:json|sql|sqlite|python|py)?")

// StripFences removes markdown code-fence markers and surrounding whitespace.
func StripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

// StripLangPrefix removes a leading bare language token such as "sql" when it is
// followed by whitespace, a colon, or the end of the text. "sqlite_master" is kept.
func StripLangPrefix(s, lang string) string {
	if len(s) < len(lang) || !strings.EqualFold(s[:len(lang)], lang) {
		return s
	}
	rest := s[len(lang):]
	if rest == "" {
		return ""
	}
	r := rune(rest[0])
	if !unicode.IsSpace(r) && r != ':' {
		return s
	}
	return strings.TrimSpace(strings.TrimPrefix(rest, ":"))
}

// CleanSQL applies the fence and language-prefix cleanup used for generated queries.
func CleanSQL(raw string) string {
	return StripLangPrefix(StripFences(raw), "sql")
}
