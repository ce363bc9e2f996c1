// Package speechd is the server leg of the speech pipeline: a POST /v1/speech
// endpoint that synthesizes announcement text through the configured upstream
// provider, behind a content-addressed disk cache. Identical requests never
// reach the provider twice; concurrent identical requests are collapsed into
// a single upstream call.
package speechd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// DiskCache stores synthesized audio as content-addressed files: one file per
// cache key, named by the key's hex digest. Writes are atomic (temp file +
// rename) so readers never observe a partial entry.
//
// All methods are safe for concurrent use across goroutines and processes.
type DiskCache struct {
	dir string
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("speechd: create cache dir: %w", err)
	}
	return &DiskCache{dir: dir}, nil
}

// Dir returns the cache directory.
func (d *DiskCache) Dir() string {
	return d.dir
}

// CacheKey derives the content address for one synthesis request: a SHA-256
// digest over the normalized text and every parameter that changes the audio.
func CacheKey(text, voiceID, modelID, outputFormat string, stability, similarity, speed float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%g\x00%g\x00%g",
		text, voiceID, modelID, outputFormat, stability, similarity, speed)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached audio for key, or ok=false when absent.
func (d *DiskCache) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("speechd: read cache entry: %w", err)
	}
	return data, true, nil
}

// Put stores audio under key atomically.
func (d *DiskCache) Put(key string, audio []byte) error {
	tmp, err := os.CreateTemp(d.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("speechd: create cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return fmt.Errorf("speechd: write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("speechd: close cache temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path(key)); err != nil {
		return fmt.Errorf("speechd: commit cache entry: %w", err)
	}
	return nil
}

// Len reports the number of cached entries.
func (d *DiskCache) Len() (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("speechd: scan cache dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == "" {
			n++
		}
	}
	return n, nil
}

func (d *DiskCache) path(key string) string {
	return filepath.Join(d.dir, key)
}
