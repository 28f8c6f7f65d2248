package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello...", Truncate("hello world", 5))
	assert.Equal(t, "x", Truncate("x", 0))
}

func TestPrefixRunes(t *testing.T) {
	assert.Equal(t, "héll", PrefixRunes("héllo", 4))
	assert.Equal(t, "abc", PrefixRunes("abc", 10))
	assert.Equal(t, "", PrefixRunes("abc", 0))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a\n\tb   c "))
}
