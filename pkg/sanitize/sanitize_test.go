package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Example KK", "Example KK"},
		{"newlines folded", "line1\r\nline2\nline3", "line1 line2 line3"},
		{"header injection", "Subject\r\nBcc: victim@example.com", "Subject Bcc: victim@example.com"},
		{"ansi stripped", "\x1b[31mred\x1b[0m text", "red text"},
		{"control chars", "a\x00b\x07c", "abc"},
		{"whitespace collapsed", "  a \t\t b  ", "a b"},
		{"japanese kept", "株式会社 逆転", "株式会社 逆転"},
		{"invalid utf8", "ok\xffok", "okok"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Line(tc.input, 100))
		})
	}
}

func TestLineTruncatesByRunes(t *testing.T) {
	got := Line("あいうえおかきくけこ", 5)
	assert.Equal(t, "あいうえお…", got)

	assert.Equal(t, "abc", Line("abc", 3))
	assert.Len(t, Line(strings.Repeat("x", 1000), 0), DefaultMaxLength+len("…"))
}

func TestMultiline(t *testing.T) {
	got := Multiline("Hello\r\n\r\nPlease review\x1b[2J our site.", 200)
	assert.Equal(t, "Hello\n\nPlease review our site.", got)
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "192.168.1.1", Origin("192.168.1.1"))
	assert.Equal(t, "2001:db8::1", Origin("2001:db8::1"))
	assert.Equal(t, "10.0.0.1", Origin("10.0.0.1\r\n<xyz>"))
	assert.Equal(t, "unknown", Origin("<>"))
}

func TestHeaderSafe(t *testing.T) {
	assert.True(t, HeaderSafe("Your LLMO diagnosis"))
	assert.False(t, HeaderSafe("x\r\nBcc: y"))
}
