package cloudstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	*StaticDirectory
	calls int
}

func (d *countingDirectory) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	d.calls++
	return d.StaticDirectory.Exists(ctx, id)
}

func TestCachedDirectory(t *testing.T) {
	known, later := uuid.New(), uuid.New()
	next := &countingDirectory{StaticDirectory: NewStaticDirectory(known)}
	dir, err := NewCachedDirectory(next, 8)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := dir.Exists(ctx, known)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, next.calls, "hits are served from cache")

	// Misses are never cached
	ok, err := dir.Exists(ctx, later)
	require.NoError(t, err)
	assert.False(t, ok)
	next.Add(later)
	ok, err = dir.Exists(ctx, later)
	require.NoError(t, err)
	assert.True(t, ok)

	dir.Forget(known)
	_, _ = dir.Exists(ctx, known)
	assert.Equal(t, 4, next.calls)

	_, err = NewCachedDirectory(nil, 8)
	assert.Error(t, err)
}

func TestOpenDirectory(t *testing.T) {
	ok, err := OpenDirectory{}.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = OpenDirectory{}.Exists(context.Background(), uuid.Nil)
	assert.False(t, ok)
}
