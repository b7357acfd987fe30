package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchicalBlocking(t *testing.T) {
	c := New()
	c.Replace("u1", []string{"example.com"})

	assert.True(t, c.IsBlocked("u1", "example.com"))
	assert.True(t, c.IsBlocked("u1", "a.example.com"))
	assert.True(t, c.IsBlocked("u1", "a.b.example.com"))
	assert.False(t, c.IsBlocked("u1", "other.com"))
}

func TestBlockingChildDoesNotBlockParent(t *testing.T) {
	c := New()
	c.Replace("u1", []string{"a.example.com"})

	assert.True(t, c.IsBlocked("u1", "a.example.com"))
	assert.False(t, c.IsBlocked("u1", "example.com"))
	assert.False(t, c.IsBlocked("u1", "b.example.com"))
}

func TestUnknownUserNeverBlocked(t *testing.T) {
	c := New()
	assert.False(t, c.IsBlocked("nobody", "example.com"))
}

func TestReplaceNormalisesInput(t *testing.T) {
	c := New()
	c.Replace("u1", []string{"  Example.COM.  ", "", "   "})
	assert.True(t, c.IsBlocked("u1", "example.com"))
	assert.Equal(t, []string{"example.com"}, c.List("u1"))
}

type fakeStore struct {
	rows map[string][]string
}

func (f fakeStore) LoadRules(ctx context.Context) (map[string][]string, error) {
	return f.rows, nil
}

func TestHydrate(t *testing.T) {
	c := New()
	err := c.Hydrate(context.Background(), fakeStore{rows: map[string][]string{
		"u1": {"example.com"},
	}}, nil)
	require.NoError(t, err)
	assert.True(t, c.IsBlocked("u1", "sub.example.com"))
}
