package document

import (
	"strings"
	"unicode/utf8"
)

// MaxContextChars bounds the document text forwarded to the generator.
// The cut is a hard prefix on characters; anything after it is never seen by
// the model.
const MaxContextChars = 10000

// Assemble joins page texts with newlines and keeps the first MaxContextChars
// characters.
func Assemble(pages []string) string {
	return truncate(strings.Join(pages, "\n"), MaxContextChars)
}

// JoinedLength is the character count of the joined pages before truncation.
func JoinedLength(pages []string) int {
	n := 0
	for i, p := range pages {
		if i > 0 {
			n++
		}
		n += utf8.RuneCountInString(p)
	}
	return n
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
