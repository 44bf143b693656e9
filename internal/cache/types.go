package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("cache: item too large")

	// ErrClosed is returned by Put after Close
	ErrClosed = errors.New("cache: closed")
)

const (
	// DefaultCapacity is used when Config.Capacity is not positive.
	DefaultCapacity int64 = 100 * 1024 * 1024

	// DefaultCompressionLevel is the zstd level used when Config leaves it zero.
	DefaultCompressionLevel = 3

	indexFileName = "cache.index"
)

// Config configures a DiskCache.
type Config struct {
	// Dir holds the cache files and index.
	Dir string
	// Capacity is the maximum on-disk size in bytes.
	Capacity int64
	// CompressionLevel is a zstd level; negative disables compression.
	CompressionLevel int
	// MaxAge drops entries older than this when the cache is opened.
	// Zero keeps entries until evicted for space.
	MaxAge time.Duration
}

// Stats holds cache performance metrics
type Stats struct {
	Capacity  int64   // Maximum capacity in bytes
	Size      int64   // Current size on disk in bytes
	ItemCount int64   // Number of entries
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Number of evictions
	HitRate   float64 // hits / (hits + misses)
}

// Key derives the cache key for one synthesis request.
func Key(text, voice string, speed float64) string {
	data := fmt.Sprintf("%s|%s|%.2f", text, voice, speed)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
