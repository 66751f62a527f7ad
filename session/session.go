// Package session ties the synchronization managers to one logged-in
// identity. A Session is built on login and closed on logout or account
// switch; nothing in it outlives Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/pinpox/marmot-sync/groupsync"
	"github.com/pinpox/marmot-sync/inbox"
	"github.com/pinpox/marmot-sync/metrics"
	"github.com/pinpox/marmot-sync/mls"
	"github.com/pinpox/marmot-sync/relay"
	"github.com/pinpox/marmot-sync/store"
)

// ErrNoGroupEngine is returned by group operations when the session runs
// without an MLS engine.
var ErrNoGroupEngine = errors.New("session: no MLS engine")

// Config carries the tunables of both managers.
type Config struct {
	Relays                []string
	ExtraInboxRelays      []string
	ReconcileInterval     time.Duration
	InviteRefreshInterval time.Duration
	InviteRefreshTimeout  time.Duration
	InviteRefreshLimit    int
	MessageBufferSize     int
	UnwrapWorkers         int
}

// Deps are the collaborators a session is built from. MLS may be nil, in
// which case only the inbox runs.
type Deps struct {
	Broker   *store.Broker
	Network  relay.Network
	Identity inbox.Identity
	MLS      mls.Client
	Log      *zap.SugaredLogger
	Metrics  *metrics.Collector
}

type Session struct {
	id      string
	pubkey  string
	broker  *store.Broker
	account *store.Account
	groups  *groupsync.Manager
	inbox   *inbox.Manager
	mls     mls.Client
	log     *zap.SugaredLogger

	closeOnce sync.Once
}

// Open resolves the identity, opens its store and builds the managers
// without starting them.
func Open(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}

	pk, err := deps.Identity.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: resolve identity: %w", err)
	}
	acc, err := deps.Broker.Account(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("session: open account: %w", err)
	}

	id := uuid.NewString()
	log := deps.Log.With("session", id[:8], "pubkey", pk[:8])

	s := &Session{
		id:      id,
		pubkey:  pk,
		broker:  deps.Broker,
		account: acc,
		mls:     deps.MLS,
		log:     log,
	}
	s.inbox = inbox.New(deps.Identity, deps.Network, acc, inbox.Options{
		Bootstrap:       cfg.Relays,
		ExtraRelays:     cfg.ExtraInboxRelays,
		RefreshInterval: cfg.InviteRefreshInterval,
		RefreshTimeout:  cfg.InviteRefreshTimeout,
		RefreshLimit:    cfg.InviteRefreshLimit,
		Workers:         cfg.UnwrapWorkers,
		Log:             log,
		Metrics:         deps.Metrics,
	})
	if deps.MLS != nil {
		s.groups = groupsync.New(deps.MLS, deps.Network, acc, acc.History, groupsync.Options{
			ReconcileInterval: cfg.ReconcileInterval,
			BufferSize:        cfg.MessageBufferSize,
			Log:               log,
			Metrics:           deps.Metrics,
		})
	}
	log.Infow("Open: session ready", "group_sync", s.groups != nil)
	return s, nil
}

// Start starts the inbox and, when an MLS engine is present, group sync.
func (s *Session) Start(ctx context.Context) error {
	if err := s.inbox.Start(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if s.groups != nil {
		s.groups.Start(ctx)
	}
	return nil
}

// Close stops both managers and releases the account store.
func (s *Session) Close() error {
	var errs *multierror.Error
	s.closeOnce.Do(func() {
		if s.groups != nil {
			s.groups.Stop()
		}
		s.inbox.Stop()
		if err := s.broker.CloseAccount(s.pubkey); err != nil {
			errs = multierror.Append(errs, err)
		}
		s.log.Infow("Close: session closed")
	})
	return errs.ErrorOrNil()
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) PubKey() string             { return s.pubkey }
func (s *Session) Account() *store.Account    { return s.account }
func (s *Session) Inbox() *inbox.Manager      { return s.inbox }
func (s *Session) Groups() *groupsync.Manager { return s.groups }

// AcceptInvite joins the group of an invite and reconciles subscriptions so
// the new group is picked up without waiting for the next tick.
func (s *Session) AcceptInvite(ctx context.Context, inviteID string) (mls.Group, error) {
	if s.mls == nil {
		return nil, ErrNoGroupEngine
	}
	g, err := s.inbox.Accept(ctx, inviteID, s.mls)
	if err != nil {
		return nil, err
	}
	s.groups.ReconcileSubscriptions(ctx)
	return g, nil
}
