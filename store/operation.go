package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// Key prefixes inside an account's state database.
const (
	prefixGroupState = "gs/"
	prefixKeyPackage = "kp/"
	prefixLastSeen   = "ls/"
	prefixRecord     = "rec/"
)

func makeKey(prefix, name string) []byte {
	return []byte(prefix + name)
}

// retrieveRaw copies the value stored under key into *out.
func retrieveRaw(key []byte, out *[]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not copy value: %w", err)
		}
		*out = val
		return nil
	}
}

// retrieve decodes the CBOR value stored under key into entity.
func retrieve(key []byte, entity any) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		var raw []byte
		if err := retrieveRaw(key, &raw)(tx); err != nil {
			return err
		}
		if err := cbor.Unmarshal(raw, entity); err != nil {
			return fmt.Errorf("could not decode entity: %w", err)
		}
		return nil
	}
}

// upsertRaw writes val under key, replacing any previous value.
func upsertRaw(key, val []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// upsert CBOR-encodes entity and writes it under key.
func upsert(key []byte, entity any) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		val, err := cbor.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		return upsertRaw(key, val)(tx)
	}
}

// remove deletes key. Missing keys are not an error.
func remove(key []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if err := tx.Delete(key); err != nil {
			return fmt.Errorf("could not delete data: %w", err)
		}
		return nil
	}
}

// listKeys collects every key under prefix with the prefix stripped.
func listKeys(prefix string, out *[]string) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			*out = append(*out, string(k[len(prefix):]))
		}
		return nil
	}
}
