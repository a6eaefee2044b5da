package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"goalflow/internal/domain"
)

// Cached is a read-through cache in front of a Store. Saved versions never
// change, so entries only leave the cache by eviction or TTL.
type Cached struct {
	Store
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewCached wraps s. maxCostBytes bounds the total size of cached versions.
func NewCached(s Store, maxCostBytes int64, ttl time.Duration) (*Cached, error) {
	counters := maxCostBytes / 100 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create version cache: %w", err)
	}
	return &Cached{Store: s, c: c, ttl: ttl}, nil
}

func cacheKey(documentID string, version int) string {
	return fmt.Sprintf("%s@%d", documentID, version)
}

func (c *Cached) GetVersion(ctx context.Context, documentID string, version int) (Version, error) {
	if data, ok := c.c.Get(cacheKey(documentID, version)); ok {
		var v Version
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		c.c.Del(cacheKey(documentID, version))
	}
	v, err := c.Store.GetVersion(ctx, documentID, version)
	if err != nil {
		return v, err
	}
	c.put(v)
	return v, nil
}

func (c *Cached) GetLatest(ctx context.Context, documentID string) (Version, error) {
	v, err := c.Store.GetLatest(ctx, documentID)
	if err != nil {
		return v, err
	}
	c.put(v)
	return v, nil
}

func (c *Cached) CreateDocument(ctx context.Context, doc *domain.Document, actorID string) (Version, error) {
	v, err := c.Store.CreateDocument(ctx, doc, actorID)
	if err != nil {
		return v, err
	}
	c.put(v)
	return v, nil
}

func (c *Cached) SaveVersion(ctx context.Context, doc *domain.Document, baseVersion int, actorID, summary string) (Version, error) {
	v, err := c.Store.SaveVersion(ctx, doc, baseVersion, actorID, summary)
	if err != nil {
		return v, err
	}
	c.put(v)
	return v, nil
}

func (c *Cached) put(v Version) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.c.SetWithTTL(cacheKey(v.DocumentID, v.Version), data, int64(len(data)), c.ttl)
}

// Wait blocks until buffered writes are applied.
func (c *Cached) Wait() {
	c.c.Wait()
}

func (c *Cached) Close() {
	c.c.Close()
}
