package reasoning

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "", Truncate("abc", 0))

	// multi-byte characters count once
	s := strings.Repeat("é", 10)
	got := Truncate(s, 4)
	assert.Equal(t, 4, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))

	long := strings.Repeat("日本", MaxEventTextLength)
	once := Truncate(long, MaxEventTextLength)
	assert.Equal(t, MaxEventTextLength, utf8.RuneCountInString(once))
	assert.Equal(t, once, Truncate(once, MaxEventTextLength))

	exact := strings.Repeat("a", MaxEventTextLength)
	assert.Equal(t, exact, Truncate(exact, MaxEventTextLength))
}
