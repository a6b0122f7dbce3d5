package policy

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache memoizes policy decisions in Redis, keyed off the request shape
// (see cacheKey), with a short TTL (§4.7, ~5 minutes) — evaluation is cheap, but at
// the secret-read hot path even a cheap in-process loop plus DB round
// trip per policy adds up, and a key revoke still propagates within one
// cache window.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache builds a Cache backed by rdb with the given TTL.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

type cacheKeyParts struct {
	Path         string `json:"path"`
	Operation    string `json:"operation"`
	SourceIP     string `json:"source_ip"`
	RequestedTTL *int   `json:"requested_ttl"`
	Minute       string `json:"minute"`
}

// cacheKey embeds entity type/ID in plain text so InvalidateEntity can
// target exactly that entity's keys with a SCAN pattern, and hashes the
// remaining request shape (path, operation, source IP, requested TTL, and
// the request time truncated to the minute) to keep the key short. Time
// conditions are thus re-evaluated once per minute; a not_before/not_after
// bound that falls inside a minute can be decided by that minute's entry.
func cacheKey(req Request) string {
	parts := cacheKeyParts{
		Path: req.Path, Operation: req.Operation, SourceIP: req.SourceIP.String(),
		RequestedTTL: req.RequestedTTL, Minute: req.When.UTC().Truncate(time.Minute).Format(time.RFC3339),
	}
	raw, _ := json.Marshal(parts)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("secrethub:policy:%s:%s:%x", req.EntityType, req.EntityID, sum)
}

func entityKeyPattern(entityType, entityID string) string {
	return fmt.Sprintf("secrethub:policy:%s:%s:*", entityType, entityID)
}

// Get returns a previously cached decision, if present and unexpired.
func (c *Cache) Get(ctx context.Context, req Request) (Decision, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(req)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Decision{}, false, nil
		}
		return Decision{}, false, err
	}

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, false, err
	}
	return d, true, nil
}

// Set stores a decision under the request's cache key.
func (c *Cache) Set(ctx context.Context, req Request, d Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(req), raw, c.ttl).Err()
}

// InvalidateEntity drops every cached decision for one entity. No code in
// this module calls it: Admin.Bind and Admin.Unbind leave the cache as it
// is, so a cached decision outlives a binding change until its TTL runs
// out.
//
// Redis SCAN with a pattern match is used rather than tracking an index
// set, since policy changes are rare relative to reads and this keeps the
// cache's write path (Set) allocation-free.
func (c *Cache) InvalidateEntity(ctx context.Context, entityType, entityID string) error {
	iter := c.rdb.Scan(ctx, 0, entityKeyPattern(entityType, entityID), 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
