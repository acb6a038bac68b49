package agent

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"

	"github.com/inbucket/mailsync/pkg/storage"
)

const responseExt = ".http"

// CacheStorage holds named caches of HTTP responses on disk, one directory per namespace.
type CacheStorage struct {
	root     string
	hashLock storage.HashLock
}

// NewCacheStorage opens or creates the storage rooted at path.
func NewCacheStorage(path string) (*CacheStorage, error) {
	if err := os.MkdirAll(path, 0770); err != nil {
		return nil, err
	}
	return &CacheStorage{root: path}, nil
}

// Open returns the named cache, creating it on first write.
func (cs *CacheStorage) Open(name string) *Cache {
	return &Cache{cs: cs, name: name, dir: filepath.Join(cs.root, name)}
}

// Keys lists the existing namespaces.
func (cs *CacheStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(cs.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Delete removes a namespace and every response in it.
func (cs *CacheStorage) Delete(name string) error {
	return os.RemoveAll(filepath.Join(cs.root, name))
}

// Cache is one namespace of stored responses, keyed by method and URL.
type Cache struct {
	cs   *CacheStorage
	name string
	dir  string
}

// Name returns the namespace name.
func (c *Cache) Name() string { return c.name }

// Match returns the stored response for req, if any.  The response body must be closed.
func (c *Cache) Match(req *http.Request) (*http.Response, bool, error) {
	hash := requestHash(req)
	l := c.cs.hashLock.Get(hash)
	l.RLock()
	raw, err := os.ReadFile(c.path(hash))
	l.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cached response %s: %w", hash, err)
	}
	return resp, true, nil
}

// Put stores resp for req.  The response body is consumed and replaced, so the caller may still
// read it.
func (c *Cache) Put(req *http.Request, resp *http.Response) error {
	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return err
	}
	hash := requestHash(req)
	l := c.cs.hashLock.Get(hash)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(c.dir, 0770); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, hash+".tmp*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, bytes.NewReader(raw)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(hash)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes the stored response for req.
func (c *Cache) Delete(req *http.Request) error {
	hash := requestHash(req)
	l := c.cs.hashLock.Get(hash)
	l.Lock()
	defer l.Unlock()
	err := os.Remove(c.path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Len returns the number of stored responses.
func (c *Cache) Len() int {
	matches, _ := filepath.Glob(filepath.Join(c.dir, "*"+responseExt))
	return len(matches)
}

func (c *Cache) path(hash string) string {
	return filepath.Join(c.dir, hash+responseExt)
}

func requestHash(req *http.Request) string {
	sum := sha1.Sum([]byte(req.Method + " " + req.URL.String()))
	return hex.EncodeToString(sum[:])
}
