// Package inbox discovers gift-wrapped MLS welcomes addressed to the active
// identity and keeps the durable list of invitations built from them.
package inbox

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/pinpox/marmot-sync/metrics"
	"github.com/pinpox/marmot-sync/mls"
	"github.com/pinpox/marmot-sync/observable"
	"github.com/pinpox/marmot-sync/relay"
	"github.com/pinpox/marmot-sync/store"
)

var (
	ErrUnknownInvite = errors.New("inbox: unknown invite")
	ErrInactive      = errors.New("inbox: manager not started")
	ErrInvalidStatus = errors.New("inbox: invalid status")
)

const (
	DefaultRefreshInterval = 5 * time.Second
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultRefreshLimit    = 100
	DefaultWorkers         = 4

	// invitesRecord is the per-identity record holding the invite list.
	invitesRecord = "invites"

	// Gift wraps carry a created_at pushed up to two days into the past.
	sinceSlack = 3 * 24 * time.Hour
)

// InviteStore persists the invite list. *store.Account implements it.
type InviteStore interface {
	GetRecord(ctx context.Context, name string, v any) error
	PutRecord(ctx context.Context, name string, v any) error
}

// Joiner turns a welcome into group membership. mls.Client implements it.
type Joiner interface {
	JoinFromWelcome(ctx context.Context, welcome *nostr.Event, keyPackageEventID string) (mls.Group, error)
}

type Options struct {
	// Bootstrap relays are where the identity's inbox relay list is looked
	// up. Without them only ExtraRelays are used.
	Bootstrap       []string
	ExtraRelays     []string
	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	RefreshLimit    int
	Workers         int
	Now             func() time.Time
	Log             *zap.SugaredLogger
	Metrics         *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = DefaultRefreshTimeout
	}
	if o.RefreshLimit <= 0 {
		o.RefreshLimit = DefaultRefreshLimit
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	return o
}

// Manager is the invitation inbox of one identity.
type Manager struct {
	id    Identity
	net   relay.Network
	store InviteStore
	opts  Options
	log   *zap.SugaredLogger

	mu         sync.Mutex
	active     bool
	gen        uint64
	cancel     context.CancelFunc
	runCtx     context.Context
	pubkey     string
	seen       map[string]struct{}
	claimed    map[string]struct{} // being unwrapped right now
	pool       *unwrapPool
	list       []PendingInvite
	relays     []string
	liveCancel context.CancelFunc

	invites *observable.Value[[]PendingInvite]
	pending *observable.Value[int]
}

func New(id Identity, net relay.Network, st InviteStore, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		id:      id,
		net:     net,
		store:   st,
		opts:    opts,
		log:     opts.Log.Named("inbox"),
		seen:    make(map[string]struct{}),
		claimed: make(map[string]struct{}),
		invites: observable.New[[]PendingInvite](nil),
		pending: observable.New(0),
	}
}

// Start resolves the identity, loads persisted invites, starts tracking the
// inbox relay set, runs one refresh and then refreshes periodically. Calling
// Start on a running manager does nothing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = true
	m.gen++
	gen := m.gen
	m.runCtx, m.cancel = context.WithCancel(context.Background())
	m.pool = newUnwrapPool(m.opts.Workers)
	runCtx := m.runCtx
	m.mu.Unlock()

	pk, err := m.id.PublicKey(ctx)
	if err != nil {
		m.Stop()
		return fmt.Errorf("inbox: resolve identity: %w", err)
	}

	persisted := m.load(ctx)

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return ErrInactive
	}
	m.pubkey = pk
	for _, inv := range persisted {
		if _, dup := m.seen[inv.ID]; dup {
			continue
		}
		m.seen[inv.ID] = struct{}{}
		m.list = append(m.list, inv)
	}
	sortInvites(m.list)
	m.publishLocked()
	m.mu.Unlock()

	m.log.Infow("Start: inbox starting", "pubkey", pk, "invites", len(persisted))

	m.applyRelays(gen, relay.Merge(m.opts.ExtraRelays))
	if len(m.opts.Bootstrap) > 0 {
		inboxRelays := relay.WatchInboxRelays(runCtx, m.net, m.opts.Bootstrap, pk, m.log)
		updates := inboxRelays.Subscribe(runCtx)
		go func() {
			for list := range updates {
				m.applyRelays(gen, relay.Merge(list, m.opts.ExtraRelays))
			}
		}()
	}

	m.Refresh(ctx)

	go func() {
		t := time.NewTicker(m.opts.RefreshInterval)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
				m.Refresh(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels timers and subscriptions and forgets all in-memory state.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.active = false
	m.gen++
	m.cancel()
	m.liveCancel = nil
	m.pubkey = ""
	m.relays = nil
	m.seen = make(map[string]struct{})
	m.claimed = make(map[string]struct{})
	m.list = nil
	// queued unwraps still finish so their batches can return
	go m.pool.stop()
	m.pool = nil
	m.publishLocked()
	m.log.Infow("Stop: inbox stopped")
}

func (m *Manager) current(gen uint64) bool {
	return m.active && m.gen == gen
}

func (m *Manager) load(ctx context.Context) []PendingInvite {
	var list []PendingInvite
	if err := m.store.GetRecord(ctx, invitesRecord, &list); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warnw("load: reading invites failed, starting empty", "err", err)
		}
		return nil
	}
	return list
}

func (m *Manager) persist(ctx context.Context, list []PendingInvite) {
	if err := m.store.PutRecord(ctx, invitesRecord, list); err != nil {
		m.log.Warnw("persist: writing invites failed", "invites", len(list), "err", err)
	}
}

// applyRelays restarts the live envelope subscription when the effective
// relay set differs from the current one, order included.
func (m *Manager) applyRelays(gen uint64, set []string) {
	m.mu.Lock()
	if !m.current(gen) || (m.liveCancel != nil && slices.Equal(set, m.relays)) {
		m.mu.Unlock()
		return
	}
	if m.liveCancel != nil {
		m.liveCancel()
	}
	m.relays = set
	liveCtx, cancel := context.WithCancel(m.runCtx)
	m.liveCancel = cancel
	filter := m.filterLocked()
	if newest := m.newestLocked(); newest > 0 {
		since := nostr.Timestamp(time.Unix(newest, 0).Add(-sinceSlack).Unix())
		filter.Since = &since
	}
	m.mu.Unlock()

	if len(set) == 0 {
		m.log.Warnw("applyRelays: no inbox relays, live subscription paused")
		return
	}
	m.log.Infow("applyRelays: subscribing for envelopes", "relays", set)

	live, err := m.net.SubscribeLive(liveCtx, set, filter)
	if err != nil {
		m.log.Warnw("applyRelays: subscribe failed", "err", err)
		return
	}
	go func() {
		for evt := range live {
			m.process(liveCtx, gen, []*nostr.Event{evt})
		}
	}()
}

func (m *Manager) filterLocked() nostr.Filter {
	return nostr.Filter{
		Kinds: []int{mls.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{m.pubkey}},
	}
}

func (m *Manager) newestLocked() int64 {
	var newest int64
	for _, inv := range m.list {
		newest = max(newest, inv.ReceivedAt)
	}
	return newest
}

// Refresh queries the current relay set once for envelopes addressed to the
// identity. Network errors and timeouts yield no events.
func (m *Manager) Refresh(ctx context.Context) []Outcome {
	m.mu.Lock()
	if !m.active || len(m.relays) == 0 {
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	relays := slices.Clone(m.relays)
	filter := m.filterLocked()
	filter.Limit = m.opts.RefreshLimit
	m.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.RefreshTimeout)
	defer cancel()
	evts, err := m.net.RequestOnce(fetchCtx, relays, filter)
	if err != nil {
		m.log.Debugw("Refresh: request failed", "err", err)
		return nil
	}
	return m.process(ctx, gen, evts)
}

// Process runs envelopes through unwrapping and welcome extraction and
// returns one Outcome per envelope.
func (m *Manager) Process(ctx context.Context, envelopes []*nostr.Event) []Outcome {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.process(ctx, gen, envelopes)
}

func (m *Manager) process(ctx context.Context, gen uint64, envelopes []*nostr.Event) []Outcome {
	outcomes := make([]Outcome, len(envelopes))

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		for i, env := range envelopes {
			outcomes[i] = skipped(env.ID, ReasonInactive)
		}
		return outcomes
	}
	pool := m.pool
	var fresh []int
	for i, env := range envelopes {
		_, dup := m.seen[env.ID]
		_, busy := m.claimed[env.ID]
		if dup || busy {
			outcomes[i] = skipped(env.ID, ReasonDuplicate)
			continue
		}
		m.claimed[env.ID] = struct{}{}
		fresh = append(fresh, i)
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		return outcomes
	}

	rumors := make([]nostr.Event, len(envelopes))
	errs := make([]error, len(envelopes))
	var wg sync.WaitGroup
	for _, i := range fresh {
		wg.Add(1)
		ok := pool.submit(func() {
			defer wg.Done()
			rumors[i], errs[i] = m.id.Unwrap(ctx, envelopes[i])
		})
		if !ok {
			errs[i] = ErrInactive
			wg.Done()
		}
	}
	wg.Wait()

	now := m.opts.Now().Unix()
	var added []PendingInvite
	for _, i := range fresh {
		env := envelopes[i]
		switch {
		case errors.Is(errs[i], ErrInactive):
			outcomes[i] = skipped(env.ID, ReasonInactive)
		case errs[i] != nil:
			m.log.Debugw("process: unwrap failed", "id", env.ID, "err", errs[i])
			m.opts.Metrics.Envelope(metrics.ResultNotForUs)
			outcomes[i] = skipped(env.ID, ReasonNotForUs)
		case rumors[i].Kind != mls.KindWelcome:
			m.opts.Metrics.Envelope(metrics.ResultNotWelcome)
			outcomes[i] = skipped(env.ID, ReasonNotWelcome)
		default:
			m.opts.Metrics.Envelope(metrics.ResultInvite)
			added = append(added, newInvite(env, rumors[i], now))
			outcomes[i] = applied(env.ID)
		}
	}

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		for _, i := range fresh {
			if outcomes[i].Kind == Added {
				outcomes[i] = skipped(envelopes[i].ID, ReasonInactive)
			}
		}
		return outcomes
	}
	// Only unwrapped envelopes count as seen; failed ones may be delivered
	// again and retried.
	for _, i := range fresh {
		delete(m.claimed, envelopes[i].ID)
		if errs[i] == nil {
			m.seen[envelopes[i].ID] = struct{}{}
		}
	}
	if len(added) == 0 {
		m.mu.Unlock()
		return outcomes
	}
	m.list = append(m.list, added...)
	sortInvites(m.list)
	m.publishLocked()
	snapshot := slices.Clone(m.list)
	m.mu.Unlock()

	for _, inv := range added {
		m.log.Infow("process: new invite", "id", inv.ID, "from", inv.Welcome.PubKey, "cipher_suite", inv.CipherSuite)
	}
	m.persist(ctx, snapshot)
	return outcomes
}

// SetInviteStatus changes the status of one invite and persists the list.
func (m *Manager) SetInviteStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrInactive
	}
	i := slices.IndexFunc(m.list, func(inv PendingInvite) bool { return inv.ID == id })
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInvite, id)
	}
	m.list[i].Status = status
	m.publishLocked()
	snapshot := slices.Clone(m.list)
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	return nil
}

// Accept joins the group of invite id through joiner and marks the invite
// accepted.
func (m *Manager) Accept(ctx context.Context, id string, joiner Joiner) (mls.Group, error) {
	inv, ok := m.Invite(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInvite, id)
	}
	g, err := joiner.JoinFromWelcome(ctx, &inv.Welcome, inv.KeyPackageEventID)
	if err != nil {
		return nil, fmt.Errorf("inbox: join from welcome %s: %w", id, err)
	}
	if err := m.SetInviteStatus(ctx, id, StatusAccepted); err != nil {
		return g, err
	}
	m.log.Infow("Accept: joined group", "invite", id, "group", g.ID().Hex())
	return g, nil
}

// Invite returns the invite with the given envelope id.
func (m *Manager) Invite(id string) (PendingInvite, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.list, func(inv PendingInvite) bool { return inv.ID == id })
	if i < 0 {
		return PendingInvite{}, false
	}
	return m.list[i], true
}

// Relays returns the effective relay set the live subscription uses.
func (m *Manager) Relays() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.relays)
}

// Invites is the observable invite list, newest received first.
func (m *Manager) Invites() *observable.Value[[]PendingInvite] {
	return m.invites
}

// Pending is the observable number of pending invites.
func (m *Manager) Pending() *observable.Value[int] {
	return m.pending
}

// publishLocked pushes the list and the pending count. Callers hold mu.
func (m *Manager) publishLocked() {
	n := 0
	for _, inv := range m.list {
		if inv.Status == StatusPending {
			n++
		}
	}
	m.invites.Set(slices.Clone(m.list))
	m.pending.Set(n)
	m.opts.Metrics.InvitesPending(n)
}

// sortInvites orders newest receipt first. Ties fall back to the envelope
// timestamp and then the id.
func sortInvites(list []PendingInvite) {
	slices.SortStableFunc(list, func(a, b PendingInvite) int {
		if c := cmp.Compare(b.ReceivedAt, a.ReceivedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Envelope.CreatedAt, a.Envelope.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
