// Package store is the per-identity persistence layer. A Broker hands out one
// Account per public key; each Account bundles the MLS group-state and
// key-package blob stores, read watermarks, named records such as the
// invitation list, and the message history.
package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/fiatjaf/eventstore"
	badgerstore "github.com/fiatjaf/eventstore/badger"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Options configures a Broker.
type Options struct {
	// RootDir holds one subdirectory per identity.
	RootDir string
	// InMemory keeps everything in memory; RootDir is ignored.
	InMemory bool
	Log      *zap.SugaredLogger
}

// Broker opens and caches Accounts.
type Broker struct {
	opts     Options
	log      *zap.SugaredLogger
	accounts *xsync.MapOf[string, *pendingAccount]
}

// pendingAccount is cached as soon as an open starts, so concurrent callers
// for the same identity wait on one open instead of racing their own.
type pendingAccount struct {
	done chan struct{}
	acc  *Account
	err  error
}

func NewBroker(opts Options) *Broker {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Broker{
		opts:     opts,
		log:      log.Named("store"),
		accounts: xsync.NewMapOf[string, *pendingAccount](),
	}
}

// Account returns the store bundle of pubkey, opening it on first use.
func (b *Broker) Account(ctx context.Context, pubkey string) (*Account, error) {
	if err := validPubKey(pubkey); err != nil {
		return nil, err
	}

	p, loaded := b.accounts.LoadOrCompute(pubkey, func() *pendingAccount {
		return &pendingAccount{done: make(chan struct{})}
	})
	if !loaded {
		p.acc, p.err = b.open(pubkey)
		if p.err != nil {
			b.accounts.Delete(pubkey)
		}
		close(p.done)
	}

	select {
	case <-p.done:
		return p.acc, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseAccount closes and forgets the account of pubkey, if open.
func (b *Broker) CloseAccount(pubkey string) error {
	p, ok := b.accounts.LoadAndDelete(pubkey)
	if !ok {
		return nil
	}
	<-p.done
	if p.err != nil {
		return nil
	}
	return p.acc.Close()
}

// Close closes every open account.
func (b *Broker) Close() error {
	var keys []string
	b.accounts.Range(func(k string, _ *pendingAccount) bool {
		keys = append(keys, k)
		return true
	})

	var errs *multierror.Error
	for _, k := range keys {
		if err := b.CloseAccount(k); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (b *Broker) open(pubkey string) (*Account, error) {
	log := b.log.With("account", shortKey(pubkey))

	var (
		kvOpts badger.Options
		events eventstore.Store
	)
	if b.opts.InMemory {
		kvOpts = badger.DefaultOptions("").WithInMemory(true)
		events = &slicestore.SliceStore{}
	} else {
		dir := filepath.Join(b.opts.RootDir, pubkey)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
		kvOpts = badger.DefaultOptions(filepath.Join(dir, "state"))
		events = &badgerstore.BadgerBackend{Path: filepath.Join(dir, "history")}
	}
	kvOpts = kvOpts.WithLogger(badgerLogger{log})

	db, err := badger.Open(kvOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open state db: %w", err)
	}
	if err := events.Init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: open history: %w", err)
	}

	log.Infow("open: account ready", "in_memory", b.opts.InMemory)
	return newAccount(pubkey, db, events, log), nil
}

func validPubKey(pk string) error {
	if len(pk) != 64 {
		return fmt.Errorf("store: invalid pubkey length %d", len(pk))
	}
	if _, err := hex.DecodeString(pk); err != nil {
		return fmt.Errorf("store: invalid pubkey: %w", err)
	}
	return nil
}

// badgerLogger routes badger's internal logging into zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debugf(f, v...) }
