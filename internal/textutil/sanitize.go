package textutil

import (
	"strings"
	"unicode"
)

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName makes name safe to use as a single path element. Path
// separators, colons and asterisks become dashes; quotes, wildcards, pipes
// and control characters are dropped. Leading dots are trimmed so exports
// never end up hidden.
func SanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = fileNameReplacer.Replace(strings.TrimSpace(name))
	return strings.TrimSpace(strings.TrimLeft(name, "."))
}
