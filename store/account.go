package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fiatjaf/eventstore"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("store: not found")
	// ErrClosed is returned by operations on a closed account.
	ErrClosed = errors.New("store: account closed")
)

// Account holds every durable store of one identity.
type Account struct {
	PubKey string

	// GroupState holds opaque MLS group state blobs keyed by group id hex.
	GroupState *BlobStore
	// KeyPackages holds key package private material keyed by key package ref.
	KeyPackages *BlobStore
	// History is the message history store.
	History *History

	log    *zap.SugaredLogger
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

func newAccount(pubkey string, db *badger.DB, events eventstore.Store, log *zap.SugaredLogger) *Account {
	a := &Account{PubKey: pubkey, db: db, log: log}
	a.GroupState = &BlobStore{acc: a, prefix: prefixGroupState}
	a.KeyPackages = &BlobStore{acc: a, prefix: prefixKeyPackage}
	a.History = &History{acc: a, events: events}
	return a
}

func (a *Account) view(fn func(*badger.Txn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return a.db.View(fn)
}

func (a *Account) update(fn func(*badger.Txn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return a.db.Update(fn)
}

// LastSeen returns the read watermark of a group, or ErrNotFound.
func (a *Account) LastSeen(_ context.Context, groupHex string) (int64, error) {
	var ts int64
	if err := a.view(retrieve(makeKey(prefixLastSeen, groupHex), &ts)); err != nil {
		return 0, err
	}
	return ts, nil
}

// SetLastSeen stores the read watermark of a group.
func (a *Account) SetLastSeen(_ context.Context, groupHex string, ts int64) error {
	return a.update(upsert(makeKey(prefixLastSeen, groupHex), ts))
}

// GetRecord decodes the named record into v.
func (a *Account) GetRecord(_ context.Context, name string, v any) error {
	return a.view(retrieve(makeKey(prefixRecord, name), v))
}

// PutRecord encodes v and stores it under name.
func (a *Account) PutRecord(_ context.Context, name string, v any) error {
	return a.update(upsert(makeKey(prefixRecord, name), v))
}

// Close releases both underlying databases. It is safe to call twice.
func (a *Account) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.History.events.Close()
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", shortKey(a.PubKey), err)
	}
	return nil
}

// BlobStore is a namespaced opaque byte store.
type BlobStore struct {
	acc    *Account
	prefix string
}

func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	if err := s.acc.view(retrieveRaw(makeKey(s.prefix, key), &val)); err != nil {
		return nil, err
	}
	return val, nil
}

func (s *BlobStore) Put(_ context.Context, key string, val []byte) error {
	return s.acc.update(upsertRaw(makeKey(s.prefix, key), val))
}

func (s *BlobStore) Delete(_ context.Context, key string) error {
	return s.acc.update(remove(makeKey(s.prefix, key)))
}

// Keys lists stored keys in byte order.
func (s *BlobStore) Keys(_ context.Context) ([]string, error) {
	var keys []string
	if err := s.acc.view(listKeys(s.prefix, &keys)); err != nil {
		return nil, err
	}
	return keys, nil
}

func shortKey(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
