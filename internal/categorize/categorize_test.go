package categorize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "spotify.com", NormalizeDomain("api.spotify.com"))
	assert.Equal(t, "reddit.com", NormalizeDomain("www.reddit.com"))
	assert.Equal(t, "bar.github.io", NormalizeDomain("foo.bar.github.io"))
}

func TestNormalizeDomainIdempotent(t *testing.T) {
	once := NormalizeDomain("api.spotify.com")
	twice := NormalizeDomain(once)
	assert.Equal(t, once, twice)
}

func TestLookupExact(t *testing.T) {
	m := Load()
	cat, ok := m.Lookup("spotify.com")
	assert.True(t, ok)
	assert.Equal(t, Music, cat)
}

func TestLookupSuffix(t *testing.T) {
	m := Load()
	cat, ok := m.Lookup("cs.berkeley.edu")
	assert.True(t, ok)
	assert.Equal(t, Reading, cat)
}

func TestLookupMiss(t *testing.T) {
	m := Load()
	_, ok := m.Lookup("example-not-a-real-tracked-domain.com")
	assert.False(t, ok)
}
