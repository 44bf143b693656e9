package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// DiskCache is a persistent, byte-bounded store of synthesized audio.
// It is safe for concurrent use.
type DiskCache struct {
	dir      string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*entry
	stats Stats

	mu     sync.Mutex
	closed bool
}

// entry is one indexed cache file.
type entry struct {
	Key          string
	File         string
	Size         int64 // on disk
	OriginalSize int64
	Compressed   bool
	Created      time.Time
	LastAccess   time.Time
}

// NewDiskCache opens or creates a cache in cfg.Dir.
func NewDiskCache(cfg Config) (*DiskCache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = DefaultCompressionLevel
	}

	dc := &DiskCache{
		dir:      cfg.Dir,
		capacity: cfg.Capacity,
		index:    make(map[string]*entry),
		stats:    Stats{Capacity: cfg.Capacity},
	}

	if cfg.CompressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dc.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	// A missing or unreadable index starts the cache empty.
	if err := dc.loadIndex(); err != nil {
		dc.index = make(map[string]*entry)
	}
	dc.dropMissing()
	if cfg.MaxAge > 0 {
		dc.removeOlderThan(time.Now().Add(-cfg.MaxAge))
	}
	dc.recalculate()

	return dc, nil
}

// Get returns the cached audio for key.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(dc.path(e))
	if err == nil && e.Compressed {
		if dc.decoder == nil {
			err = errors.New("compressed entry without decoder")
		} else {
			data, err = dc.decoder.DecodeAll(data, nil)
		}
	}
	if err != nil {
		dc.remove(key, e)
		dc.stats.Misses++
		return nil, false
	}

	e.LastAccess = time.Now()
	dc.stats.Hits++
	return data, true
}

// Put stores value under key, evicting least recently used entries until it
// fits.
func (dc *DiskCache) Put(key string, value []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.closed {
		return ErrClosed
	}

	data, compressed := value, false
	// Only compress payloads above 1KB, and only keep the result if smaller.
	if dc.encoder != nil && len(value) > 1024 {
		if c := dc.encoder.EncodeAll(value, nil); len(c) < len(value) {
			data, compressed = c, true
		}
	}

	size := int64(len(data))
	if size > dc.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := dc.index[key]; ok {
		dc.remove(key, existing)
	}
	for dc.size+size > dc.capacity && len(dc.index) > 0 {
		dc.evictOldest()
	}

	now := time.Now()
	e := &entry{
		Key:          key,
		File:         key + ".zst",
		Size:         size,
		OriginalSize: int64(len(value)),
		Compressed:   compressed,
		Created:      now,
		LastAccess:   now,
	}
	if !compressed {
		e.File = key + ".pcm"
	}
	if err := writeFileAtomic(dc.path(e), data); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	dc.index[key] = e
	dc.size += size
	return nil
}

// Delete removes key from the cache.
func (dc *DiskCache) Delete(key string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if e, ok := dc.index[key]; ok {
		dc.remove(key, e)
	}
}

// Stats returns a snapshot of cache metrics.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	st := dc.stats
	st.Size = dc.size
	st.ItemCount = int64(len(dc.index))
	if st.Hits+st.Misses > 0 {
		st.HitRate = float64(st.Hits) / float64(st.Hits+st.Misses)
	}
	return st
}

// Close persists the index. Further Puts fail with ErrClosed.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.closed {
		return nil
	}
	dc.closed = true
	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	if dc.decoder != nil {
		dc.decoder.Close()
	}
	return dc.saveIndex()
}

func (dc *DiskCache) path(e *entry) string {
	return filepath.Join(dc.dir, e.File)
}

func (dc *DiskCache) remove(key string, e *entry) {
	_ = os.Remove(dc.path(e))
	dc.size -= e.Size
	delete(dc.index, key)
}

func (dc *DiskCache) evictOldest() {
	var (
		oldestKey string
		oldest    *entry
	)
	for key, e := range dc.index {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldestKey, oldest = key, e
		}
	}
	if oldest != nil {
		dc.remove(oldestKey, oldest)
		dc.stats.Evictions++
	}
}

func (dc *DiskCache) dropMissing() {
	for key, e := range dc.index {
		if _, err := os.Stat(dc.path(e)); errors.Is(err, fs.ErrNotExist) {
			delete(dc.index, key)
		}
	}
}

func (dc *DiskCache) removeOlderThan(cutoff time.Time) {
	keys := make([]string, 0, len(dc.index))
	for key := range dc.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if e := dc.index[key]; e.Created.Before(cutoff) {
			dc.remove(key, e)
		}
	}
}

func (dc *DiskCache) recalculate() {
	dc.size = 0
	for _, e := range dc.index {
		dc.size += e.Size
	}
}

func (dc *DiskCache) loadIndex() error {
	f, err := os.Open(filepath.Join(dc.dir, indexFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	return gob.NewDecoder(f).Decode(&dc.index)
}

func (dc *DiskCache) saveIndex() error {
	path := filepath.Join(dc.dir, indexFileName)
	tmp := path + "." + uuid.NewString() + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(dc.index)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// writeFileAtomic writes to a unique temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
