package ratelimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/models"
)

// DocstoreBackend keeps buckets in the RateBuckets table and conversation
// markers in the Dedup table of the document store.
type DocstoreBackend struct {
	store database.DocumentStore
	now   func() time.Time
}

func NewDocstoreBackend(store database.DocumentStore) *DocstoreBackend {
	return &DocstoreBackend{store: store, now: time.Now}
}

func (b *DocstoreBackend) Name() string {
	return "docstore"
}

func (b *DocstoreBackend) Increment(ctx context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int64, error) {
	bucket := models.RateBucket{
		Key:         key,
		WindowStart: windowStart,
		ExpiresAt:   b.now().Add(ttl).Unix(),
	}
	count, err := b.store.AtomicIncrement(ctx, b.store.Tables().RateBuckets, rowKey(key, windowStart), bucket, "messageCount", 1, int64(limit))
	if stderrors.Is(err, database.ErrLimitExceeded) {
		return 0, ErrLimitExceeded
	}
	return count, err
}

func (b *DocstoreBackend) Sum(ctx context.Context, keys []string) (int64, error) {
	var total int64
	for _, key := range keys {
		var bucket models.RateBucket
		err := b.store.Get(ctx, b.store.Tables().RateBuckets, key, &bucket)
		if stderrors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += bucket.MessageCount
	}
	return total, nil
}

func (b *DocstoreBackend) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := b.now()
	marker := models.DedupMarker{
		Key:       key,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	err := b.store.ConditionalPut(ctx, b.store.Tables().Dedup, key, marker, database.NotExists())
	if stderrors.Is(err, database.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *DocstoreBackend) Release(ctx context.Context, key string) error {
	return b.store.Delete(ctx, b.store.Tables().Dedup, key)
}

// rowKey joins a bucket key with its window: "whatsapp:P1#1717000000".
// Tier keys already carry their window and are stored as given.
func rowKey(key string, windowStart int64) string {
	suffix := fmt.Sprintf("#%d", windowStart)
	if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
		return key
	}
	return key + suffix
}
