// Package queue is the durable store for mutations that failed to reach the
// network. Entries live in bbolt until a replay succeeds; they are never
// mutated in place.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/pulsefeed/backend/internal/metrics"
)

var bucketMutations = []byte("mutations")

// Mutation is one queued write. FileData is carried inline (base64 over JSON)
// so the multipart body can be rebuilt byte-for-byte at replay time.
type Mutation struct {
	ID             uint64    `json:"id"`
	User           string    `json:"user"`
	Text           string    `json:"text"`
	FileName       string    `json:"file_name,omitempty"`
	FileData       []byte    `json:"file_data,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Store is a bbolt-backed FIFO of mutations. Ids are monotonically increasing
// and time-based, so insertion order equals id order.
type Store struct {
	db *bbolt.DB

	// When set, every enqueued mutation without a key gets a fresh UUID,
	// replayed later as the X-Idempotency-Key header.
	attachIdempotencyKeys bool

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIdempotencyKeys enables per-mutation idempotency keys.
func WithIdempotencyKeys(enabled bool) Option {
	return func(s *Store) {
		s.attachIdempotencyKeys = enabled
	}
}

// WithNow sets the time source for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (or creates) the queue database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMutations)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating mutations bucket: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a mutation and returns its id. The id is the current
// unix-nano clock, bumped past the last stored id when the clock stalls or
// steps backwards, so ids stay strictly increasing across a single store.
func (s *Store) Enqueue(ctx context.Context, m Mutation) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if m.IdempotencyKey == "" && s.attachIdempotencyKeys {
		m.IdempotencyKey = uuid.New().String()
	}
	m.EnqueuedAt = s.now().UTC()

	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMutations)

		id = uint64(s.now().UnixNano())
		if last, _ := bucket.Cursor().Last(); last != nil {
			if prev := binary.BigEndian.Uint64(last); id <= prev {
				id = prev + 1
			}
		}
		m.ID = id

		data, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshaling mutation: %w", err)
		}
		return bucket.Put(encodeID(id), data)
	})
	if err != nil {
		return 0, err
	}

	s.observeDepth()
	return id, nil
}

// List returns every queued mutation in enqueue (id-ascending) order.
func (s *Store) List(ctx context.Context) ([]Mutation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Mutation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMutations).ForEach(func(_, v []byte) error {
			var m Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshaling mutation: %w", err)
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// Remove deletes a mutation by id. Removing an id that is already gone is
// a no-op.
func (s *Store) Remove(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMutations).Delete(encodeID(id))
	})
	if err != nil {
		return err
	}

	s.observeDepth()
	return nil
}

// Count returns the number of queued mutations.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketMutations).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) observeDepth() {
	if n, err := s.Count(context.Background()); err == nil {
		metrics.OfflineQueueDepth.Set(float64(n))
	}
}

func encodeID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}
