package sink

import (
    "errors"
    "fmt"
    "sync"

    "github.com/dgraph-io/badger/v4"
)

// Store remembers which message ids were consumed.
type Store interface {
    // Mark records id and reports whether it had been recorded before.
    Mark(id string) (seen bool, err error)
    // Len returns the number of distinct ids recorded.
    Len() (int, error)
    Close() error
}

// MemoryStore keeps ids in a map; it forgets everything on restart.
type MemoryStore struct {
    mu  sync.Mutex
    ids map[string]struct{}
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{ids: make(map[string]struct{})} }

func (s *MemoryStore) Mark(id string) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    _, seen := s.ids[id]
    s.ids[id] = struct{}{}
    return seen, nil
}

func (s *MemoryStore) Len() (int, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.ids), nil
}

func (s *MemoryStore) Close() error { return nil }

// BadgerStore persists ids so duplicates are detected across restarts of
// the consumer.
type BadgerStore struct {
    db *badger.DB
}

var keyPrefix = []byte("msg/")

// OpenBadger opens (or creates) a store in dir. An empty dir keeps the data
// in memory.
func OpenBadger(dir string) (*BadgerStore, error) {
    opts := badger.DefaultOptions(dir).WithLogger(nil).WithLoggingLevel(badger.ERROR)
    if dir == "" { opts = opts.WithInMemory(true) }
    db, err := badger.Open(opts)
    if err != nil { return nil, fmt.Errorf("sink: open badger: %w", err) }
    return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Mark(id string) (bool, error) {
    key := append(append([]byte(nil), keyPrefix...), id...)
    var seen bool
    err := s.db.Update(func(txn *badger.Txn) error {
        _, err := txn.Get(key)
        switch {
        case err == nil:
            seen = true
            return nil
        case errors.Is(err, badger.ErrKeyNotFound):
            return txn.Set(key, nil)
        default:
            return err
        }
    })
    return seen, err
}

func (s *BadgerStore) Len() (int, error) {
    n := 0
    err := s.db.View(func(txn *badger.Txn) error {
        opts := badger.DefaultIteratorOptions
        opts.PrefetchValues = false
        opts.Prefix = keyPrefix
        it := txn.NewIterator(opts)
        defer it.Close()
        for it.Rewind(); it.Valid(); it.Next() { n++ }
        return nil
    })
    return n, err
}

func (s *BadgerStore) Close() error { return s.db.Close() }
