// Package cache stores compiled serializer programs in two tiers: a
// fast in-process map and a persistent backend (filesystem, Redis, or
// SQLite). Persistent payloads are msgpack envelopes carrying the
// generated source; a persistent hit recompiles the source and
// repopulates the memory tier. Keys are content-addressed sha256
// digests, so concurrent writers of the same key are idempotent.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/celox-dev/celox/compiler"
)

// Config selects and parameterizes the persistent backend.
type Config struct {
	// Backend is one of "filesystem", "redis", or "sqlite".
	Backend string

	// Dir is the cache directory for the filesystem backend.
	Dir string

	// RedisURL is a connection string for the redis backend, e.g.
	// redis://localhost:6379/0.
	RedisURL string

	// RedisPrefix is prepended to all redis keys.
	RedisPrefix string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string
}

// Entry is one cached serializer. The persistent tier stores everything
// except Program, which is recompiled on load.
type Entry struct {
	TypeName  string
	FuncName  string
	Paths     []string
	Source    string
	CreatedAt time.Time

	Program *compiler.Program
}

// Stats reports the backend kind and per-tier entry counts.
type Stats struct {
	Backend           string `json:"backend"`
	MemoryEntries     int    `json:"memory_entries"`
	PersistentEntries int    `json:"persistent_entries"`
}

// ErrCacheMiss is returned when a key is in neither tier.
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss.
func IsCacheMiss(err error) bool {
	_, ok := err.(ErrCacheMiss)
	return ok
}

// SerializerCache is the two-tier store.
type SerializerCache struct {
	backend string
	store   Store

	mu     sync.RWMutex
	memory map[string]*Entry
}

// New constructs a cache for the configured backend. An unknown backend
// kind, an unreachable Redis server, or an unopenable SQLite database
// is a fatal configuration error reported here, never deferred to
// first use.
func New(cfg Config) (*SerializerCache, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "filesystem":
		store, err = newFilesystemStore(cfg.Dir)
	case "redis":
		store, err = newRedisStore(cfg.RedisURL, cfg.RedisPrefix)
	case "sqlite":
		store, err = newSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s cache backend: %w", cfg.Backend, err)
	}

	return &SerializerCache{
		backend: cfg.Backend,
		store:   store,
		memory:  make(map[string]*Entry),
	}, nil
}

// Key derives the content-addressed cache key from its identifying
// inputs: a full 64-character lowercase sha256 hex digest. Identical
// inputs always produce identical keys.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Get retrieves an entry. The memory tier is checked first; on a miss
// the persistent tier is read, decoded, recompiled, and promoted into
// memory. A corrupt or uncompilable persisted entry is purged and
// reported as a miss, as is a cancelled context.
func (c *SerializerCache) Get(ctx context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.memory[key]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	payload, err := c.store.Get(ctx, key)
	if err != nil {
		// Backend unavailability and cancellation degrade to a miss;
		// the caller regenerates the entry.
		return nil, ErrCacheMiss{Key: key}
	}

	entry, err = decodeEnvelope(payload)
	if err == nil {
		entry.Program, err = compiler.Compile(entry.Source, entry.FuncName)
	}
	if err != nil {
		// Corrupt entry: purge so the next read does not pay again.
		_ = c.store.Delete(ctx, key)
		return nil, ErrCacheMiss{Key: key}
	}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()
	return entry, nil
}

// Set writes an entry to both tiers. An entry without a compiled
// Program is compile-validated first, so a generator defect surfaces at
// store time rather than on a later load.
func (c *SerializerCache) Set(ctx context.Context, key string, entry *Entry) error {
	if entry.Program == nil {
		prog, err := compiler.Compile(entry.Source, entry.FuncName)
		if err != nil {
			return err
		}
		entry.Program = prog
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	payload, err := encodeEnvelope(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()

	if err := c.store.Set(ctx, key, payload); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

// Invalidate removes one entry from both tiers.
func (c *SerializerCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()
	return c.store.Delete(ctx, key)
}

// Clear removes all entries from both tiers.
func (c *SerializerCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.memory = make(map[string]*Entry)
	c.mu.Unlock()
	return c.store.Clear(ctx)
}

// Stats reports tier sizes.
func (c *SerializerCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	memEntries := len(c.memory)
	c.mu.RUnlock()

	persisted, err := c.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count persisted entries: %w", err)
	}

	return Stats{
		Backend:           c.backend,
		MemoryEntries:     memEntries,
		PersistentEntries: persisted,
	}, nil
}

// Close releases backend resources.
func (c *SerializerCache) Close() error {
	return c.store.Close()
}
