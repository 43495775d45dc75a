// Package extsession manages per-user sessions with the external
// storefront: an on-disk store of auth state plus an in-memory registry
// of live automation drivers. Isolation is the point; one user's store
// session must never be visible to another.
package extsession

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/logger"
)

const (
	// DefaultTTL is how long a storefront session stays reusable
	// before the user has to log in to the store again.
	DefaultTTL = 7 * 24 * time.Hour

	sessionsDirName = "blinkit_sessions"
	authStateFile   = "auth_state"
	metadataFile    = "metadata.json"
)

// Metadata describes one stored session. The phone number, when known,
// is kept only as a one-way hash.
type Metadata struct {
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	PhoneHash  string    `json:"phone_hash,omitempty"`
}

func (m Metadata) Expired() bool {
	return time.Now().After(m.ExpiresAt)
}

// Store is the on-disk half: one directory per sanitized username
// holding the automation auth state and a metadata file. All operations
// share one mutex.
type Store struct {
	dir string
	ttl time.Duration
	log zerolog.Logger
	mu  sync.Mutex
}

func NewStore(baseDir string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	dir := filepath.Join(baseDir, sessionsDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("chmod sessions dir %s: %w", dir, err)
	}
	return &Store{
		dir: dir,
		ttl: ttl,
		log: logger.Component("extsession"),
	}, nil
}

// SanitizeUsername maps an application username to a filesystem-safe
// directory name: keep letters, digits, underscore, hyphen; lowercase.
// When characters had to be dropped, a short hash of the original is
// appended so usernames differing only in dropped characters (dotted
// vs undotted emails, say) never share a directory. The result is a
// fixed point of this function, so sweeps can re-derive paths from
// directory names.
func SanitizeUsername(username string) string {
	var b strings.Builder
	dropped := false
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			dropped = true
		}
	}
	if !dropped {
		return b.String()
	}

	sum := sha256.Sum256([]byte(username))
	tag := hex.EncodeToString(sum[:])[:8]
	if b.Len() == 0 {
		return tag
	}
	return b.String() + "-" + tag
}

func hashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) userDir(username string) string {
	return filepath.Join(s.dir, SanitizeUsername(username))
}

// AuthStatePath returns the path handed to the automation driver for
// this user's store credentials. The file itself is written by the
// driver on login, not by this package.
func (s *Store) AuthStatePath(username string) string {
	return filepath.Join(s.userDir(username), authStateFile)
}

func (s *Store) metadataPath(username string) string {
	return filepath.Join(s.userDir(username), metadataFile)
}

// Exists reports whether the user has both a metadata record and a
// written auth state. A freshly created session reads as not existing
// until the driver completes a store login.
func (s *Store) Exists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(username)
}

func (s *Store) existsLocked(username string) bool {
	if _, err := os.Stat(s.metadataPath(username)); err != nil {
		return false
	}
	if _, err := os.Stat(s.AuthStatePath(username)); err != nil {
		return false
	}
	return true
}

// IsValid reports whether the session exists and has not expired.
func (s *Store) IsValid(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsLocked(username) {
		return false
	}
	meta, err := s.readMetadataLocked(username)
	if err != nil {
		return false
	}
	return !meta.Expired()
}

// Create initializes the session directory and metadata for a user.
// The optional phone number is stored only as a hash.
func (s *Store) Create(username, phone string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.userDir(username)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Metadata{}, fmt.Errorf("create session dir for %s: %w", username, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return Metadata{}, fmt.Errorf("chmod session dir for %s: %w", username, err)
	}

	now := time.Now().UTC()
	meta := Metadata{
		Username:   username,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if phone != "" {
		meta.PhoneHash = hashPhone(phone)
	}
	if err := s.writeMetadataLocked(username, meta); err != nil {
		return Metadata{}, err
	}
	s.log.Debug().Str("username", username).Time("expires_at", meta.ExpiresAt).Msg("created storefront session")
	return meta, nil
}

// TouchActivity stamps last_used_at. A missing session is a no-op.
func (s *Store) TouchActivity(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetadataLocked(username)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	meta.LastUsedAt = time.Now().UTC()
	return s.writeMetadataLocked(username, meta)
}

// Metadata returns the stored metadata for a user.
func (s *Store) Metadata(username string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMetadataLocked(username)
}

func (s *Store) readMetadataLocked(username string) (Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(username))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse session metadata for %s: %w", username, err)
	}
	return meta, nil
}

func (s *Store) writeMetadataLocked(username string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata for %s: %w", username, err)
	}

	dir := s.userDir(username)
	tmp, err := os.CreateTemp(dir, metadataFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp metadata for %s: %w", username, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod metadata for %s: %w", username, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata for %s: %w", username, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metadata for %s: %w", username, err)
	}
	if err := os.Rename(tmp.Name(), s.metadataPath(username)); err != nil {
		return fmt.Errorf("publish metadata for %s: %w", username, err)
	}
	return nil
}

// Clear removes the user's session directory. Returns false when there
// was nothing to clear.
func (s *Store) Clear(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(username)
}

func (s *Store) clearLocked(username string) (bool, error) {
	dir := s.userDir(username)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("clear session for %s: %w", username, err)
	}
	s.log.Debug().Str("username", username).Msg("cleared storefront session")
	return true, nil
}

// CleanupExpired removes every expired session directory and returns
// how many were removed. Run from the maintenance sweep and pantryctl.
func (s *Store) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read sessions dir: %w", err)
	}

	cleaned := 0
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		username := de.Name()
		meta, err := s.readMetadataLocked(username)
		if err != nil {
			s.log.Warn().Str("username", username).Err(err).Msg("skip session with unreadable metadata")
			continue
		}
		if !meta.Expired() {
			continue
		}
		if _, err := s.clearLocked(username); err != nil {
			s.log.Warn().Str("username", username).Err(err).Msg("failed to clear expired session")
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		s.log.Info().Int("count", cleaned).Msg("cleaned up expired storefront sessions")
	}
	return cleaned, nil
}

// ListAll returns metadata for every stored session keyed by the
// sanitized username.
func (s *Store) ListAll() (map[string]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	out := make(map[string]Metadata, len(entries))
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		meta, err := s.readMetadataLocked(de.Name())
		if err != nil {
			continue
		}
		out[de.Name()] = meta
	}
	return out, nil
}
