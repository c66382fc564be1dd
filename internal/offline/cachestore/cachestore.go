// Package cachestore persists HTTP responses for offline use in versioned
// bbolt buckets. Each cache version owns three partitions (static, dynamic,
// media); activating a new version garbage-collects every bucket belonging to
// older versions.
package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Partition names the three cache classes. A key lives in exactly one
// partition; the strategy layer decides which.
type Partition string

const (
	PartitionStatic  Partition = "static"
	PartitionDynamic Partition = "dynamic"
	PartitionMedia   Partition = "media"
)

var (
	// ErrMiss is returned when a key has no cached entry.
	ErrMiss = errors.New("cachestore: miss")

	// ErrPartialContent is returned when a partial-content response is
	// offered to the media partition. Caching a 206 body would serve a
	// truncated file to later full reads.
	ErrPartialContent = errors.New("cachestore: refusing to cache partial content")

	errNotCacheable = errors.New("cachestore: only GET requests are cacheable")
)

// Entry is one stored response.
type Entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Store is a versioned response cache. All methods are safe for concurrent
// use; concurrent writers to the same key race benignly (last writer wins).
type Store struct {
	db *bbolt.DB

	mu      sync.RWMutex
	version string
}

// Open opens the cache database at path and ensures the partitions for the
// given version exist. Older versions are NOT collected here; that happens on
// Activate, mirroring a worker activation step.
func Open(path, version string) (*Store, error) {
	if version == "" {
		return nil, errors.New("cachestore: version must not be empty")
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	s := &Store{db: db, version: version}
	if err := s.createPartitions(version); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Version returns the currently active cache version.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) createPartitions(version string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, p := range []Partition{PartitionStatic, PartitionDynamic, PartitionMedia} {
			if _, err := tx.CreateBucketIfNotExists(bucketName(p, version)); err != nil {
				return fmt.Errorf("creating partition %s: %w", p, err)
			}
		}
		return nil
	})
}

// Put stores a response for a GET request. The media partition refuses
// partial-content entries (status 206 or a ranged request).
func (s *Store) Put(ctx context.Context, partition Partition, req *http.Request, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Method != http.MethodGet {
		return errNotCacheable
	}
	if partition == PartitionMedia {
		if entry.StatusCode == http.StatusPartialContent || req.Header.Get("Range") != "" {
			return ErrPartialContent
		}
	}

	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	s.mu.RLock()
	name := bucketName(partition, s.version)
	s.mu.RUnlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket == nil {
			return fmt.Errorf("partition %s not found", name)
		}
		return bucket.Put(requestKey(req), data)
	})
}

// Get retrieves the cached response for a GET request. Returns ErrMiss when
// nothing is stored.
func (s *Store) Get(ctx context.Context, partition Partition, req *http.Request) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet {
		return nil, ErrMiss
	}

	s.mu.RLock()
	name := bucketName(partition, s.version)
	s.mu.RUnlock()

	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket == nil {
			return ErrMiss
		}
		val := bucket.Get(requestKey(req))
		if val == nil {
			return ErrMiss
		}
		var decodeErr error
		entry, decodeErr = decodeEntry(val)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Activate switches the store to a new cache version and deletes every bucket
// whose version suffix does not match. Partitions already on the target
// version survive untouched.
func (s *Store) Activate(version string) error {
	if version == "" {
		return errors.New("cachestore: version must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if _, v, ok := parseBucketName(name); ok && v != version {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("deleting stale partition %s: %w", name, err)
			}
		}

		for _, p := range []Partition{PartitionStatic, PartitionDynamic, PartitionMedia} {
			if _, err := tx.CreateBucketIfNotExists(bucketName(p, version)); err != nil {
				return fmt.Errorf("creating partition %s: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.version = version
	return nil
}

// Clear empties every partition of the active version.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	version := s.version
	s.mu.RUnlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, p := range []Partition{PartitionStatic, PartitionDynamic, PartitionMedia} {
			name := bucketName(p, version)
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("clearing partition %s: %w", name, err)
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating partition %s: %w", name, err)
			}
		}
		return nil
	})
}

// Len reports how many entries a partition of the active version holds.
func (s *Store) Len(partition Partition) (int, error) {
	s.mu.RLock()
	name := bucketName(partition, s.version)
	s.mu.RUnlock()

	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(name)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

// HasPartition reports whether a partition bucket exists for a version.
// Exposed for activation tests and diagnostics.
func (s *Store) HasPartition(partition Partition, version string) bool {
	var ok bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketName(partition, version)) != nil
		return nil
	})
	return ok
}

func bucketName(p Partition, version string) []byte {
	return []byte(string(p) + "-" + version)
}

// parseBucketName splits "<class>-<version>" on the first dash following a
// known partition prefix. Unknown buckets are left alone by Activate.
func parseBucketName(name []byte) (Partition, string, bool) {
	str := string(name)
	for _, p := range []Partition{PartitionStatic, PartitionDynamic, PartitionMedia} {
		prefix := string(p) + "-"
		if strings.HasPrefix(str, prefix) {
			return p, str[len(prefix):], true
		}
	}
	return "", "", false
}

// requestKey identifies an entry by method and full URL.
func requestKey(req *http.Request) []byte {
	var buf bytes.Buffer
	buf.WriteString(req.Method)
	buf.WriteByte(0)
	buf.WriteString(req.URL.String())
	return buf.Bytes()
}
