package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
)

var bucketSessions = []byte("sessions")

// IndexFile is the bbolt file name inside the sessions directory.
const IndexFile = "index.db"

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the session index at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.NewStorageError("create index dir", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errs.NewStorageError("open index", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.NewStorageError("create bucket", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Put inserts or replaces a record.
func (s *BoltStore) Put(rec *SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errs.NewStorageError("put session", fmt.Errorf("record has no id"))
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.NewStorageError("encode session", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// Get returns the record for id, or nil if there is none.
func (s *BoltStore) Get(id string) (*SessionRecord, error) {
	var rec *SessionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}

		rec = &SessionRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, errs.NewStorageError("get session", err)
	}
	return rec, nil
}

// List returns every record, newest first.
func (s *BoltStore) List() ([]*SessionRecord, error) {
	var out []*SessionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("session %s: %w", k, err)
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, errs.NewStorageError("list sessions", err)
	}

	sortNewestFirst(out)
	return out, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]SessionRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]SessionRecord)}
}

func (s *MemoryStore) Put(rec *SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errs.NewStorageError("put session", fmt.Errorf("record has no id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) Get(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) List() ([]*SessionRecord, error) {
	s.mu.RLock()
	out := make([]*SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		rec := rec
		out = append(out, &rec)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(recs []*SessionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
