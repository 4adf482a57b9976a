package asset

import (
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded content cache shared by loaders across builds.
//
// Local entries are keyed by absolute path and are valid while the file's
// mtime and size are unchanged. Remote entries are keyed by URL and are only
// kept when the server sent an ETag; they are revalidated with If-None-Match.
//
// A nil *Cache is valid and caches nothing.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	asset   Asset
	modTime time.Time
	size    int64
	etag    string
}

// NewCache creates a cache holding at most size assets.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("asset cache: %w", err)
	}
	return &Cache{entries: c}, nil
}

// Len reports the number of cached assets.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func (c *Cache) local(p string, st os.FileInfo) (Asset, bool) {
	if c == nil {
		return Asset{}, false
	}
	e, ok := c.entries.Get("file:" + p)
	if !ok || !e.modTime.Equal(st.ModTime()) || e.size != st.Size() {
		return Asset{}, false
	}
	return e.asset, true
}

func (c *Cache) putLocal(p string, st os.FileInfo, a Asset) {
	if c == nil {
		return
	}
	c.entries.Add("file:"+p, cacheEntry{asset: a, modTime: st.ModTime(), size: st.Size()})
}

func (c *Cache) remote(u string) (Asset, string, bool) {
	if c == nil {
		return Asset{}, "", false
	}
	e, ok := c.entries.Get("url:" + u)
	if !ok || e.etag == "" {
		return Asset{}, "", false
	}
	return e.asset, e.etag, true
}

func (c *Cache) putRemote(u, etag string, a Asset) {
	if c == nil {
		return
	}
	if etag == "" {
		c.entries.Remove("url:" + u)
		return
	}
	c.entries.Add("url:"+u, cacheEntry{asset: a, etag: etag})
}
