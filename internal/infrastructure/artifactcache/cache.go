package artifactcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
)

// DefaultTTL bounds how long a profile-dependent artifact stays
// servable. Generated suggestions go stale even when the inputs do not.
const DefaultTTL = 12 * time.Hour

// Cache memoizes artifacts produced from an input hash plus a mode,
// optionally scoped to a profile fingerprint. Two tiers: an in-process
// map for the hot path and one JSON file per key so restarts keep the
// expensive entries.
type Cache struct {
	dir string
	ttl time.Duration
	log zerolog.Logger

	mu  sync.Mutex
	mem map[string]string
}

// entry is the on-disk representation of one cached artifact.
type entry struct {
	CachedAt           time.Time `json:"cached_at"`
	Payload            string    `json:"payload"`
	Mode               string    `json:"mode"`
	ProfileFingerprint string    `json:"profile_fingerprint,omitempty"`
	Invalidated        bool      `json:"invalidated"`
}

func New(dir string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	// MkdirAll leaves pre-existing dirs alone; the chmod makes the
	// permission explicit either way.
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("chmod cache dir %s: %w", dir, err)
	}
	return &Cache{
		dir: dir,
		ttl: ttl,
		log: logger.Component("artifact_cache"),
		mem: make(map[string]string),
	}, nil
}

// Key builds the cache key. Profile-independent artifacts (nil profile)
// share entries across users; profile-dependent ones get the
// fingerprint suffix.
func (c *Cache) Key(inputHash, mode string, profile *domain.Profile) string {
	if profile != nil {
		return inputHash + "_" + mode + "_" + ProfileFingerprint(*profile)
	}
	return inputHash + "_" + mode
}

// Lookup returns the cached payload for the key, consulting memory
// first and falling back to disk. Disk entries that are invalidated,
// older than the TTL, or fingerprinted for a different profile are
// deleted on sight. A disk hit is rehydrated into memory.
func (c *Cache) Lookup(inputHash, mode string, profile *domain.Profile) (string, bool) {
	key := c.Key(inputHash, mode, profile)

	c.mu.Lock()
	defer c.mu.Unlock()

	if payload, ok := c.mem[key]; ok {
		c.log.Debug().Str("key", key).Msg("memory cache hit")
		return payload, true
	}

	path := c.entryPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("unreadable cache entry")
		return "", false
	}

	switch {
	case e.Invalidated:
		c.log.Debug().Str("key", key).Msg("cache entry invalidated")
		_ = os.Remove(path)
		return "", false
	case time.Since(e.CachedAt) > c.ttl:
		c.log.Debug().Str("key", key).Msg("cache entry expired")
		_ = os.Remove(path)
		return "", false
	case profile != nil && e.ProfileFingerprint != ProfileFingerprint(*profile):
		c.log.Debug().Str("key", key).Msg("profile changed since entry was cached")
		_ = os.Remove(path)
		return "", false
	}

	c.log.Debug().Str("key", key).Msg("disk cache hit")
	c.mem[key] = e.Payload
	return e.Payload, true
}

// Insert stores the payload in both tiers. The disk write goes through
// a sibling temp file and a rename so a concurrent reader sees either
// the old entry or the new one, never a torn file.
func (c *Cache) Insert(inputHash, mode, payload string, profile *domain.Profile) error {
	key := c.Key(inputHash, mode, profile)

	e := entry{
		CachedAt: time.Now().UTC(),
		Payload:  payload,
		Mode:     mode,
	}
	if profile != nil {
		e.ProfileFingerprint = ProfileFingerprint(*profile)
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem[key] = payload
	if err := c.writeEntry(key, data); err != nil {
		return err
	}
	c.log.Debug().Str("key", key).Str("mode", mode).Msg("cached artifact")
	return nil
}

func (c *Cache) writeEntry(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp entry %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp entry %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp entry %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), c.entryPath(key)); err != nil {
		return fmt.Errorf("publish entry %s: %w", key, err)
	}
	return nil
}

// InvalidateForUser marks every on-disk entry invalidated and clears
// the memory tier, returning how many entries were touched. Called
// after a profile edit that changes a fingerprinted field; entries that
// were never profile-scoped are swept along with the rest, which only
// costs a regeneration.
func (c *Cache) InvalidateForUser(username string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.entryNames()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn().Str("file", name).Err(err).Msg("skip unreadable entry during invalidation")
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			c.log.Warn().Str("file", name).Err(err).Msg("skip malformed entry during invalidation")
			continue
		}
		e.Invalidated = true
		out, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		if err := c.writeEntry(key, out); err != nil {
			c.log.Warn().Str("file", name).Err(err).Msg("failed to invalidate entry")
			continue
		}
		count++
	}

	c.mem = make(map[string]string)
	c.log.Info().Str("username", username).Int("count", count).Msg("invalidated cached artifacts")
	return count, nil
}

// CleanupExpired removes expired and invalidated entries from disk and
// returns how many were deleted. Run from the maintenance sweep and
// from pantryctl.
func (c *Cache) CleanupExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.entryNames()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if !e.Invalidated && time.Since(e.CachedAt) <= c.ttl {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.log.Warn().Str("file", name).Err(err).Msg("failed to remove stale entry")
			continue
		}
		count++
	}

	if count > 0 {
		c.log.Info().Int("count", count).Msg("cleaned up stale cache entries")
	}
	return count, nil
}

// Stats summarizes both tiers for the health surface and pantryctl.
type Stats struct {
	TotalEntries       int   `json:"total_entries"`
	ValidEntries       int   `json:"valid_entries"`
	ExpiredEntries     int   `json:"expired_entries"`
	InvalidatedEntries int   `json:"invalidated_entries"`
	TotalSizeBytes     int64 `json:"total_size_bytes"`
	MemoryEntries      int   `json:"memory_cache_entries"`
}

func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.entryNames()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{TotalEntries: len(names), MemoryEntries: len(c.mem)}
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		if info, err := os.Stat(path); err == nil {
			st.TotalSizeBytes += info.Size()
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		switch {
		case e.Invalidated:
			st.InvalidatedEntries++
		case time.Since(e.CachedAt) > c.ttl:
			st.ExpiredEntries++
		default:
			st.ValidEntries++
		}
	}
	return st, nil
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) entryNames() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		names = append(names, de.Name())
	}
	return names, nil
}
