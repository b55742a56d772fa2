// Package cache is a file-backed cache whose entries carry a keyed
// signature verified on every read. A raw serialized blob on disk would let
// a lower-privileged writer inject structured data into the trust boundary;
// the signed envelope makes any such edit a silent cache miss instead.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/util"
)

type envelope struct {
	ExpiresAt int64           `json:"expiresAt"`
	Value     json.RawMessage `json:"value"`
	Signature string          `json:"signature"`
}

type Cache struct {
	dir     string
	secret  []byte
	enabled bool
	now     func() time.Time
}

func New(dir string, secret []byte, enabled bool) *Cache {
	return &Cache{dir: dir, secret: secret, enabled: enabled, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

// path hashes the logical key so crafted keys cannot traverse out of the
// cache directory.
func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, util.HashKey(key)+".cache")
}

func (c *Cache) sign(expiresAt int64, value json.RawMessage) string {
	return util.HmacSHA256(c.secret, fmt.Sprintf("%d|%s", expiresAt, value))
}

// Get reads an entry into out and reports whether it was usable. Signature
// mismatch, malformed JSON and expiry all delete the entry and report a
// miss; none of them is a user-visible error.
func (c *Cache) Get(key string, out any) bool {
	if !c.enabled {
		return false
	}

	path := c.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Str("key", key).Msg("cache entry malformed, evicting")
		os.Remove(path)
		return false
	}

	if !util.ConstantTimeEqual(c.sign(env.ExpiresAt, env.Value), env.Signature) {
		log.Warn().Str("key", key).Msg("cache entry signature mismatch, evicting")
		os.Remove(path)
		return false
	}

	if env.ExpiresAt <= c.now().Unix() {
		os.Remove(path)
		return false
	}

	if err := json.Unmarshal(env.Value, out); err != nil {
		os.Remove(path)
		return false
	}
	return true
}

// Set wraps value in a signed envelope and persists it with owner-only
// permissions. The write goes through a temp file and rename so readers
// never observe a partial entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	expiresAt := c.now().Add(ttl).Unix()
	env := envelope{
		ExpiresAt: expiresAt,
		Value:     raw,
		Signature: c.sign(expiresAt, raw),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "write-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}

	return os.Rename(tmp.Name(), c.path(key))
}

func (c *Cache) Invalidate(key string) {
	if !c.enabled {
		return
	}
	os.Remove(c.path(key))
}

func (c *Cache) InvalidateAll() {
	if !c.enabled {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".cache" {
			os.Remove(filepath.Join(c.dir, entry.Name()))
		}
	}
}

// SweepExpired deletes entries whose envelope is expired or unreadable.
// Returns the number of files removed.
func (c *Cache) SweepExpired() int64 {
	if !c.enabled {
		return 0
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	var removed int64
	now := c.now().Unix()
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".cache" {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.ExpiresAt <= now {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}
