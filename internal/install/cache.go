package install

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/permaskills/skills/internal/dataitem"
)

// ErrCacheMiss is returned by BundleCache.Get when no archive is stored.
var ErrCacheMiss = errors.New("bundle not cached")

// BundleCache stores downloaded archives by content id. Each archive has a
// digest sidecar that is checked on every read.
type BundleCache struct {
	dir string
}

// NewBundleCache returns a cache rooted at dir.
func NewBundleCache(dir string) *BundleCache {
	return &BundleCache{dir: dir}
}

func (c *BundleCache) paths(id string) (string, string, error) {
	if !dataitem.ValidID(id) {
		return "", "", fmt.Errorf("invalid content id %q", id)
	}
	base := filepath.Join(c.dir, id+".tar.gz")
	return base, base + ".digest", nil
}

// Get returns the cached archive for id. A corrupt entry is removed and
// reported as an error.
func (c *BundleCache) Get(id string) ([]byte, error) {
	archive, sidecar, err := c.paths(id)
	if err != nil {
		return nil, err
	}
	want, err := os.ReadFile(sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache digest: %w", err)
	}
	data, err := os.ReadFile(archive)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached bundle: %w", err)
	}

	d, err := digest.Parse(strings.TrimSpace(string(want)))
	if err != nil || d != digest.FromBytes(data) {
		c.remove(id)
		return nil, fmt.Errorf("cached bundle %s failed digest check", id)
	}
	return data, nil
}

// Put stores data under id.
func (c *BundleCache) Put(id string, data []byte) error {
	archive, sidecar, err := c.paths(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating bundle cache: %w", err)
	}
	if err := writeAtomic(archive, data); err != nil {
		return err
	}
	return writeAtomic(sidecar, []byte(digest.FromBytes(data).String()+"\n"))
}

func (c *BundleCache) remove(id string) {
	archive, sidecar, err := c.paths(id)
	if err != nil {
		return
	}
	os.Remove(archive)
	os.Remove(sidecar)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
