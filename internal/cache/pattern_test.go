package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"product:42", "product:42", true},
		{"product:42", "product:420", false},
		{"products:*", "products:42", true},
		{"products:*", "products:list", true},
		{"products:*", "products:", true},
		{"products:*", "product:42", false},
		{"*", "", true},
		{"*", "anything", true},
		{"*:X", "tag:X", true},
		{"*:X", "tag:XY", false},
		{"user:*:profile", "user:123:profile", true},
		{"user:*:profile", "user::profile", true},
		{"user:*:profile", "user:123:settings", false},
		{"a*b*c", "abc", true},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "acb", false},
		{"a*a", "a", false},
		{"a**b", "ab", true},
		{"Products:*", "products:1", false},
		{"price.[0-9]+", "price.[0-9]+", true},
		{"price.[0-9]+", "price.42", false},
		{"q?", "q?", true},
		{"q?", "qa", false},
		{"tag:{a,b}", "tag:{a,b}", true},
		{"tag:{a,b}", "tag:a", false},
		{`path\*`, `path\x`, true},
	}

	for _, tt := range tests {
		p, err := CompilePattern(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Match(tt.input), "pattern %q vs %q", tt.pattern, tt.input)
	}
}

func TestCompilePattern_Invalid(t *testing.T) {
	for _, raw := range []string{"", strings.Repeat("a", MaxPatternLength+1), "bad\npattern", "nul\x00"} {
		_, err := CompilePattern(raw)
		require.Error(t, err, "pattern %q", raw)
		require.ErrorIs(t, err, ErrInvalidPattern)
	}
}

func TestCompilePatterns_DedupAndReject(t *testing.T) {
	ps, err := CompilePatterns([]string{"a:*", "b", "a:*"})
	require.NoError(t, err)
	require.Len(t, ps, 2)

	ps, err = CompilePatterns(nil)
	require.NoError(t, err)
	require.Empty(t, ps)

	_, err = CompilePatterns([]string{"ok", ""})
	require.ErrorIs(t, err, ErrInvalidPattern)
}
