// Package sanitize cleans user-supplied form values before they reach logs,
// email headers or email bodies.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const DefaultMaxLength = 256

// Line returns s as a single line: ANSI escapes and control characters are
// removed, line breaks and tabs become spaces, runs of spaces collapse, and the
// result is truncated to maxRunes. Safe for log fields and mail headers.
func Line(s string, maxRunes int) string {
	return clean(s, maxRunes, false)
}

// Multiline is like Line but keeps "\n" line breaks (CRLF is folded to LF).
func Multiline(s string, maxRunes int) string {
	return clean(s, maxRunes, true)
}

func clean(s string, maxRunes int, keepNewlines bool) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxLength
	}

	var b strings.Builder
	b.Grow(min(len(s), maxRunes*utf8.UTFMax))

	n := 0
	lastSpace := false
	for i := 0; i < len(s); {
		if s[i] == 0x1B {
			i = skipEscape(s, i)
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		switch {
		case r == utf8.RuneError && size == 1:
			continue
		case r == '\n' && keepNewlines:
			b.WriteRune('\n')
			n++
			lastSpace = false
		case r == '\r':
			if !keepNewlines {
				r = ' '
			} else {
				continue
			}
			fallthrough
		case unicode.IsSpace(r):
			if lastSpace || b.Len() == 0 {
				continue
			}
			b.WriteByte(' ')
			n++
			lastSpace = true
		case unicode.IsControl(r) || r == 0x2028 || r == 0x2029:
			continue
		default:
			b.WriteRune(r)
			n++
			lastSpace = false
		}

		if n >= maxRunes {
			if i < len(s) {
				return strings.TrimRight(b.String(), " ") + "…"
			}
			break
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// skipEscape returns the index after an ANSI escape sequence starting at i.
func skipEscape(s string, i int) int {
	i++
	if i < len(s) && s[i] == '[' {
		i++
		for i < len(s) && !(s[i] >= 0x40 && s[i] <= 0x7E) {
			i++
		}
	}
	if i < len(s) {
		i++
	}
	return i
}

// Origin keeps only characters that can appear in an IPv4 or IPv6 address.
func Origin(ip string) string {
	var b strings.Builder
	b.Grow(len(ip))
	for _, r := range ip {
		if unicode.IsDigit(r) || r == '.' || r == ':' ||
			(r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// HeaderSafe reports whether s can be placed in a mail header verbatim.
func HeaderSafe(s string) bool {
	return !strings.ContainsAny(s, "\r\n")
}
