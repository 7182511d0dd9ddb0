package agent

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "fix the failing tests", "fix-the-failing-tests"},
		{"uppercase", "Fix The Failing Tests", "fix-the-failing-tests"},
		{"punctuation runs", "fix: tests!!! now", "fix-tests-now"},
		{"trailing junk", "fix tests...", "fix-tests"},
		{"leading junk", "...fix tests", "fix-tests"},
		{"empty", "", "task"},
		{"only punctuation", "!!!???", "task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestSlugBounded(t *testing.T) {
	long := strings.Repeat("abcde ", 40)
	slug := Slug(long)
	assert.LessOrEqual(t, len(slug), 50)
	assert.NotContains(t, slug, " ")
}

// Truncation must never cut a multibyte rune in half.
func TestSlugMultibyteContext(t *testing.T) {
	slug := Slug(strings.Repeat("héllo wörld ", 10))
	assert.True(t, utf8.ValidString(slug))
	assert.Regexp(t, `^[a-z0-9-]+$`, slug)

	// A multibyte rune straddling the cutoff collapses to a hyphen
	// instead of leaking a partial encoding.
	assert.Equal(t, "h-llo-w-rld", Slug("héllo wörld"))
}

func TestBranchName(t *testing.T) {
	now := time.Unix(1700000000, 0)
	branch := BranchName("Fix the failing tests", now)

	assert.True(t, strings.HasPrefix(branch, "claude-mobile/fix-the-failing-tests-"), branch)

	// base36 of 1700000000
	assert.True(t, strings.HasSuffix(branch, "-s44we8"), branch)

	// Total branch length stays bounded: prefix + 50 + hyphen + timestamp
	assert.LessOrEqual(t, len(branch), len("claude-mobile/")+50+1+13)
}

func TestBranchNamesDifferAcrossTime(t *testing.T) {
	a := BranchName("same context", time.Unix(1700000000, 0))
	b := BranchName("same context", time.Unix(1700000001, 0))
	assert.NotEqual(t, a, b)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 72))
	assert.Equal(t, "trimmed", Truncate("  trimmed  ", 72))

	long := strings.Repeat("x", 100)
	got := Truncate(long, 72)
	assert.LessOrEqual(t, len(got), 72)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateMultibyte(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := Truncate(long, 72)

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 72)
	assert.True(t, strings.HasSuffix(got, "..."))
}
