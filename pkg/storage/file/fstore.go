package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/gozstd"
)

// Extension of record files.
const recordExt = ".zst"

// envelope is the on-disk representation of a record, before compression.
type envelope struct {
	Family    storage.Family `json:"family"`
	Key       string         `json:"key"`
	FetchedAt time.Time      `json:"fetchedAt"`
	Payload   []byte         `json:"payload"`
}

// Store implements storage.Backend on the local filesystem and is the root of the record
// hierarchy.  Each record lives in its own zstd compressed file; writes go to a temporary file
// which is renamed over the previous record, so readers never observe a partial record.
type Store struct {
	hashLock   storage.HashLock
	path       string
	recordPath string
	level      int
}

var _ storage.Backend = &Store{}

// New creates a new file backend using the `path` parameter.  The optional `level` parameter sets
// the zstd compression level.
func New(cfg config.Storage) (storage.Backend, error) {
	path := cfg.Params["path"]
	if path == "" {
		return nil, errors.New("'path' parameter not specified")
	}
	level := gozstd.DefaultCompressionLevel
	if s, ok := cfg.Params["level"]; ok {
		if _, err := fmt.Sscanf(s, "%d", &level); err != nil {
			return nil, fmt.Errorf("failed to parse level: %v", err)
		}
	}

	recordPath := getRecordPath(path)
	if _, err := os.Stat(recordPath); err != nil {
		// Record store does not yet exist, create it.
		if err = os.MkdirAll(recordPath, 0770); err != nil {
			log.Error().Str("module", "storage").Str("path", recordPath).Err(err).
				Msg("Error creating dir")
			return nil, err
		}
	}

	return &Store{
		path:       path,
		recordPath: recordPath,
		level:      level,
	}, nil
}

// Get reads and decompresses the keyed record.
func (fs *Store) Get(f storage.Family, key string) (*storage.Record, error) {
	hash := storage.HashKey(f, key)
	l := fs.hashLock.Get(hash)
	l.RLock()
	defer l.RUnlock()

	compressed, err := os.ReadFile(fs.filePath(f, hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	raw, err := gozstd.Decompress(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s/%s: %v", storage.ErrUnavailable, f, key, err)
	}
	env := &envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("%w: decode %s/%s: %v", storage.ErrUnavailable, f, key, err)
	}
	if env.Family != f || env.Key != key {
		// Hash collision or a file copied from elsewhere.
		return nil, storage.ErrNotExist
	}
	return &storage.Record{
		Family:    env.Family,
		Key:       env.Key,
		Payload:   env.Payload,
		FetchedAt: env.FetchedAt,
	}, nil
}

// Put replaces the keyed record.
func (fs *Store) Put(rec *storage.Record) error {
	if err := storage.ValidFamily(rec.Family); err != nil {
		return err
	}
	raw, err := json.Marshal(&envelope{
		Family:    rec.Family,
		Key:       rec.Key,
		FetchedAt: rec.FetchedAt,
		Payload:   rec.Payload,
	})
	if err != nil {
		return err
	}
	compressed := gozstd.CompressLevel(nil, raw, fs.level)

	hash := storage.HashKey(rec.Family, rec.Key)
	l := fs.hashLock.Get(hash)
	l.Lock()
	defer l.Unlock()

	dir := fs.dirPath(rec.Family, hash)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, hash+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(compressed); err != nil {
		// Try to remove the file.
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), fs.filePath(rec.Family, hash)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Remove deletes the keyed record.
func (fs *Store) Remove(f storage.Family, key string) error {
	hash := storage.HashKey(f, key)
	l := fs.hashLock.Get(hash)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(fs.filePath(f, hash))
	if errors.Is(err, os.ErrNotExist) {
		return storage.ErrNotExist
	}
	return err
}

// Clear removes every record file.
func (fs *Store) Clear() error {
	if err := os.RemoveAll(fs.recordPath); err != nil {
		return err
	}
	return os.MkdirAll(fs.recordPath, 0770)
}

// Count walks the family directory counting record files.
func (fs *Store) Count(f storage.Family) (int, error) {
	n := 0
	root := filepath.Join(fs.recordPath, string(f))
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), recordExt) {
			n++
		}
		return nil
	})
	return n, err
}

// Close is a no-op; every operation opens its own files.
func (fs *Store) Close() error {
	return nil
}

func (fs *Store) dirPath(f storage.Family, hash string) string {
	return filepath.Join(fs.recordPath, string(f), hash[0:3])
}

func (fs *Store) filePath(f storage.Family, hash string) string {
	return filepath.Join(fs.dirPath(f, hash), hash+recordExt)
}

// getRecordPath converts a file store `path` parameter into the effective record path.  Within
// the path, '$' is replaced with ':' to support Windows drive letters with our env->config map
// syntax.
func getRecordPath(base string) string {
	path := strings.ReplaceAll(base, "$", ":")
	return filepath.Join(path, "records")
}
