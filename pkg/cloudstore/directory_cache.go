package cloudstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedDirectory remembers principals that were found. Misses are always
// forwarded so newly registered principals become visible immediately.
type CachedDirectory struct {
	next  Directory
	known *lru.Cache[uuid.UUID, struct{}]
}

// NewCachedDirectory wraps next with a positive-result cache of the given size.
func NewCachedDirectory(next Directory, size int) (*CachedDirectory, error) {
	if next == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[uuid.UUID, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create directory cache: %w", err)
	}
	return &CachedDirectory{next: next, known: cache}, nil
}

func (c *CachedDirectory) Exists(ctx context.Context, principalID uuid.UUID) (bool, error) {
	if c.known.Contains(principalID) {
		return true, nil
	}
	ok, err := c.next.Exists(ctx, principalID)
	if err != nil {
		return false, err
	}
	if ok {
		c.known.Add(principalID, struct{}{})
	}
	return ok, nil
}

// Search is never cached.
func (c *CachedDirectory) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*Principal, error) {
	return c.next.Search(ctx, query, exclude, limit)
}

// Forget drops a principal from the cache.
func (c *CachedDirectory) Forget(principalID uuid.UUID) {
	c.known.Remove(principalID)
}
