package cache

import (
	"context"
	"time"
)

// KV is the small cache surface the field service needs. A nil KV is
// valid and disables caching.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// TableFieldsKey is the cache key of a table's field listing.
func TableFieldsKey(tableID string) string {
	return "table:fields:" + tableID
}
