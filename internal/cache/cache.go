package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common cache errors
var (
	ErrCacheMiss = errors.New("cache miss")
)

// Cache stores JSON-serializable values under string keys
type Cache interface {
	// Get decodes the cached value for key into value, or returns ErrCacheMiss
	Get(key string, value any) error

	// Set stores value under key; a ttl of zero never expires
	Set(key string, value any, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error

	// Close cleans up the cache resources
	Close() error
}

// Entry is the on-disk envelope around a cached value
type Entry struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsExpired reports whether the entry is past its expiry at the given time
func (e *Entry) IsExpired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return now.After(*e.ExpiresAt)
}

// KeyBuilder builds namespaced cache keys
type KeyBuilder struct {
	prefix string
}

func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{prefix: prefix}
}

// ScanKey identifies a vulnerability scan of an image within one build. The
// trivy options that change the findings are part of the key.
func (b *KeyBuilder) ScanKey(build, image string, severities []string, ignoreUnfixed bool) string {
	return b.buildKey("scan", build, image, strings.Join(severities, ","), ignoreUnfixed)
}

func (b *KeyBuilder) buildKey(parts ...any) string {
	key := b.prefix
	for _, part := range parts {
		key += ":" + fmt.Sprint(part)
	}
	return key
}
