// Package groupsync keeps one live relay subscription per MLS group, feeds
// every group event through the MLS engine exactly once, and derives a
// per-group unread signal from message timestamps and persisted read
// watermarks.
package groupsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
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

const (
	DefaultReconcileInterval = 2 * time.Second
	DefaultBufferSize        = 200
)

// WatermarkStore persists read watermarks. *store.Account implements it.
type WatermarkStore interface {
	LastSeen(ctx context.Context, groupHex string) (int64, error)
	SetLastSeen(ctx context.Context, groupHex string, ts int64) error
}

// HistoryStore persists decrypted messages. *store.History implements it.
type HistoryStore interface {
	Save(ctx context.Context, groupHex string, rumor nostr.Event) error
	Recent(ctx context.Context, groupHex string, limit int) ([]nostr.Event, error)
}

type Options struct {
	ReconcileInterval time.Duration
	BufferSize        int
	Log               *zap.SugaredLogger
	Metrics           *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = DefaultReconcileInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	return o
}

// State is the lifecycle state of one group subscription.
type State int

const (
	StateAbsent State = iota
	StateSubscribing
	StateLive
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type entry struct {
	group  mls.Group
	relays []string
	cancel context.CancelFunc
	state  State
	// seen holds raw event ids for the lifetime of the subscription.
	seen map[string]struct{}
	// ingestMu serializes calls into the MLS engine for this group.
	ingestMu sync.Mutex
}

// Manager is the group subscription manager of one identity.
type Manager struct {
	client     mls.Client
	net        relay.Network
	watermarks WatermarkStore
	history    HistoryStore
	opts       Options
	log        *zap.SugaredLogger

	mu            sync.Mutex
	active        bool
	gen           uint64
	ctx           context.Context
	cancel        context.CancelFunc
	entries       map[string]*entry
	noRelays      map[string]struct{}
	lastMessageAt map[string]int64
	lastSeenAt    map[string]int64
	buffers       map[string][]mls.Rumor
	callbacks     map[string]map[int]func([]mls.Rumor)
	nextCallback  int

	// reconcileGen is the generation whose reconcile pass is running, 0 if none.
	reconcileGen uint64
	unread       *observable.Value[[]string]
}

// New builds an inactive manager. history may be nil.
func New(client mls.Client, net relay.Network, watermarks WatermarkStore, history HistoryStore, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		client:     client,
		net:        net,
		watermarks: watermarks,
		history:    history,
		opts:       opts,
		log:        opts.Log.Named("groupsync"),
		callbacks:  make(map[string]map[int]func([]mls.Rumor)),
		unread:     observable.New[[]string](nil),
	}
	m.resetLocked()
	return m
}

func (m *Manager) resetLocked() {
	m.entries = make(map[string]*entry)
	m.noRelays = make(map[string]struct{})
	m.lastMessageAt = make(map[string]int64)
	m.lastSeenAt = make(map[string]int64)
	m.buffers = make(map[string][]mls.Rumor)
}

// Start runs one reconciliation pass and then reconciles periodically. A
// second call while active is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.gen++
	m.ctx, m.cancel = context.WithCancel(context.Background())
	loopCtx := m.ctx
	m.mu.Unlock()

	m.log.Infow("Start: group sync starting", "interval", m.opts.ReconcileInterval)
	m.ReconcileSubscriptions(ctx)

	go func() {
		t := time.NewTicker(m.opts.ReconcileInterval)
		defer t.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-t.C:
				m.ReconcileSubscriptions(loopCtx)
			}
		}
	}()
}

// Stop cancels the timer, closes every subscription, clears all sync state
// and empties the unread list. Registered message callbacks are kept.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.gen++
	m.cancel()
	for _, e := range m.entries {
		e.cancel()
	}
	m.resetLocked()
	m.opts.Metrics.SubscriptionsOpen(0)
	m.publishUnreadLocked()
	m.mu.Unlock()

	m.log.Infow("Stop: group sync stopped")
}

// Active reports whether the manager is started.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// current reports whether gen is still the running generation. Callers hold mu.
func (m *Manager) current(gen uint64) bool {
	return m.active && m.gen == gen
}

// ReconcileSubscriptions opens a subscription for every group the MLS engine
// lists and closes subscriptions of groups it no longer lists. A call made
// while another pass of the same Start generation is running returns
// immediately; a pass left over from before a restart does not block the new
// generation. Errors are logged.
func (m *Manager) ReconcileSubscriptions(ctx context.Context) {
	m.mu.Lock()
	if !m.active || m.reconcileGen == m.gen {
		m.mu.Unlock()
		return
	}
	gen := m.gen
	m.reconcileGen = gen
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.reconcileGen == gen {
			m.reconcileGen = 0
		}
		m.mu.Unlock()
	}()

	start := time.Now()
	defer func() { m.opts.Metrics.ReconcileDone(time.Since(start)) }()

	ids, err := m.client.GroupIDs(ctx)
	if err != nil {
		m.log.Warnw("ReconcileSubscriptions: list groups failed", "err", err)
		return
	}

	want := make(map[string]mls.GroupID, len(ids))
	for _, id := range ids {
		want[id.Hex()] = id
	}

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	var missing []mls.GroupID
	for h, id := range want {
		_, subscribed := m.entries[h]
		_, skipped := m.noRelays[h]
		if !subscribed && !skipped {
			missing = append(missing, id)
		}
	}
	var gone []string
	for h := range m.entries {
		if _, ok := want[h]; !ok {
			gone = append(gone, h)
		}
	}
	for h := range m.noRelays {
		if _, ok := want[h]; !ok {
			delete(m.noRelays, h)
		}
	}
	m.mu.Unlock()

	for _, h := range gone {
		m.closeGroup(gen, h)
	}
	for _, id := range missing {
		g, err := m.client.Group(ctx, id)
		if err != nil {
			m.log.Warnw("ReconcileSubscriptions: load group failed", "group", id.Hex(), "err", err)
			continue
		}
		m.openGroup(gen, g)
	}
}

func (m *Manager) openGroup(gen uint64, g mls.Group) {
	h := g.ID().Hex()
	relays := slices.Clone(g.Relays())

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	if _, exists := m.entries[h]; exists {
		return
	}
	if len(relays) == 0 {
		m.noRelays[h] = struct{}{}
		m.log.Warnw("openGroup: group has no relays, not subscribing", "group", h)
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		group:  g,
		relays: relays,
		cancel: cancel,
		state:  StateSubscribing,
		seen:   make(map[string]struct{}),
	}
	m.entries[h] = e
	m.opts.Metrics.SubscriptionsOpen(len(m.entries))
	m.log.Debugw("openGroup: subscribing", "group", h, "relays", relays, "epoch", g.Epoch())

	go m.runSubscription(ctx, gen, h, e)
}

func (m *Manager) closeGroup(gen uint64, h string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	e, exists := m.entries[h]
	if !exists {
		return
	}
	e.cancel()
	e.state = StateClosed
	delete(m.entries, h)
	delete(m.buffers, h)
	delete(m.lastMessageAt, h)
	m.opts.Metrics.SubscriptionsOpen(len(m.entries))
	m.publishUnreadLocked()
	m.log.Infow("closeGroup: group left, subscription closed", "group", h)
}

// runSubscription loads the watermark and recent history, then runs the live
// subscription and the one-shot historical fetch side by side.
func (m *Manager) runSubscription(ctx context.Context, gen uint64, h string, e *entry) {
	m.ensureWatermark(ctx, gen, h)
	m.seedFromHistory(ctx, gen, h)

	filter := nostr.Filter{
		Kinds: []int{mls.KindGroupMessage},
		Tags:  nostr.TagMap{mls.GroupTag: []string{h}},
	}

	live, err := m.net.SubscribeLive(ctx, e.relays, filter)
	if err != nil {
		m.log.Warnw("runSubscription: subscribe failed", "group", h, "err", err)
		m.setState(gen, h, e, StateError)
		return
	}
	m.setState(gen, h, e, StateLive)

	go func() {
		evts, err := m.net.RequestOnce(ctx, e.relays, filter)
		if err != nil {
			m.log.Warnw("runSubscription: historical fetch failed", "group", h, "err", err)
			return
		}
		m.process(ctx, gen, h, evts)
	}()

	for evt := range live {
		m.process(ctx, gen, h, []*nostr.Event{evt})
	}
	m.setState(gen, h, e, StateClosed)
}

func (m *Manager) setState(gen uint64, h string, e *entry, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current(gen) && m.entries[h] == e {
		e.state = s
	}
}

func (m *Manager) ensureWatermark(ctx context.Context, gen uint64, h string) {
	m.mu.Lock()
	_, cached := m.lastSeenAt[h]
	m.mu.Unlock()
	if cached {
		return
	}

	ts, err := m.watermarks.LastSeen(ctx, h)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warnw("ensureWatermark: load failed, assuming 0", "group", h, "err", err)
		}
		ts = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	if _, set := m.lastSeenAt[h]; !set {
		m.lastSeenAt[h] = ts
		m.publishUnreadLocked()
	}
}

func (m *Manager) seedFromHistory(ctx context.Context, gen uint64, h string) {
	if m.history == nil {
		return
	}
	msgs, err := m.history.Recent(ctx, h, m.opts.BufferSize)
	if err != nil {
		m.log.Warnw("seedFromHistory: load failed", "group", h, "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	if _, exists := m.entries[h]; exists {
		m.mergeLocked(h, msgs)
	}
}

// Process runs raw events of one group through the pipeline: drop ids already
// seen, ingest the rest, decode application messages, merge them into the
// buffer, update the unread signal and notify callbacks. It returns one
// Outcome per raw event and per ingestion result.
func (m *Manager) Process(ctx context.Context, group mls.GroupID, events []*nostr.Event) []Outcome {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.process(ctx, gen, group.Hex(), events)
}

func (m *Manager) process(ctx context.Context, gen uint64, h string, events []*nostr.Event) []Outcome {
	outcomes := make([]Outcome, 0, len(events))

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		for _, evt := range events {
			outcomes = append(outcomes, skipped(evt.ID, ReasonInactive))
		}
		return outcomes
	}
	e, exists := m.entries[h]
	if !exists {
		m.mu.Unlock()
		for _, evt := range events {
			outcomes = append(outcomes, skipped(evt.ID, ReasonUnknownGroup))
		}
		return outcomes
	}
	fresh := make([]*nostr.Event, 0, len(events))
	for _, evt := range events {
		if _, dup := e.seen[evt.ID]; dup {
			outcomes = append(outcomes, skipped(evt.ID, ReasonDuplicate))
			m.opts.Metrics.GroupEvent(metrics.ResultDuplicate)
			continue
		}
		e.seen[evt.ID] = struct{}{}
		fresh = append(fresh, evt)
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		return outcomes
	}

	rumors, ingested := m.ingest(ctx, h, e, fresh)
	outcomes = append(outcomes, ingested...)
	if len(rumors) == 0 {
		return outcomes
	}

	m.mu.Lock()
	if !m.current(gen) || m.entries[h] != e {
		m.mu.Unlock()
		return outcomes
	}
	m.mergeLocked(h, rumors)
	cbs := slices.Collect(maps.Values(m.callbacks[h]))
	m.mu.Unlock()

	if m.history != nil {
		for _, r := range rumors {
			if err := m.history.Save(ctx, h, r); err != nil {
				m.log.Warnw("process: save history failed", "group", h, "id", r.ID, "err", err)
			}
		}
	}

	for _, cb := range cbs {
		cb(slices.Clone(rumors))
	}
	return outcomes
}

// ingest feeds fresh events to the MLS engine and decodes application
// messages. A panic inside the engine ends the batch as an ingest error.
func (m *Manager) ingest(ctx context.Context, h string, e *entry, fresh []*nostr.Event) (rumors []mls.Rumor, outcomes []Outcome) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("mls engine panic: %v", r)
			m.log.Errorw("ingest: engine panicked", "group", h, "err", err)
			m.opts.Metrics.GroupEvent(metrics.ResultIngestError)
			outcomes = append(outcomes, failed("", ReasonIngest, err))
		}
	}()

	for res := range e.group.Ingest(ctx, fresh) {
		id := ""
		if res.Event != nil {
			id = res.Event.ID
		}
		switch res.Kind {
		case mls.ResultApplicationMessage:
			r, err := mls.DecodeRumor(res.Payload)
			if err != nil {
				m.log.Warnw("ingest: dropping undecodable message", "group", h, "event", id, "err", err)
				m.opts.Metrics.GroupEvent(metrics.ResultDecodeError)
				outcomes = append(outcomes, failed(id, ReasonDecode, err))
				continue
			}
			m.opts.Metrics.GroupEvent(metrics.ResultAppMessage)
			rumors = append(rumors, r)
			outcomes = append(outcomes, applied(id, ReasonMessage))
		case mls.ResultError:
			m.log.Debugw("ingest: event not applied", "group", h, "event", id, "err", res.Err)
			m.opts.Metrics.GroupEvent(metrics.ResultIngestError)
			outcomes = append(outcomes, failed(id, ReasonIngest, res.Err))
		default:
			m.opts.Metrics.GroupEvent(metrics.ResultIngested)
			outcomes = append(outcomes, applied(id, ReasonTransition))
		}
	}
	return rumors, outcomes
}

// mergeLocked merges rumors into the buffer of h by id, keeps it sorted by
// created_at and bounded, and advances lastMessageAt. Callers hold mu.
func (m *Manager) mergeLocked(h string, rumors []mls.Rumor) {
	buf := m.buffers[h]
	pos := make(map[string]int, len(buf))
	for i, r := range buf {
		pos[r.ID] = i
	}
	var newest int64
	for _, r := range rumors {
		if i, ok := pos[r.ID]; ok {
			buf[i] = r
		} else {
			pos[r.ID] = len(buf)
			buf = append(buf, r)
		}
		newest = max(newest, int64(r.CreatedAt))
	}
	slices.SortStableFunc(buf, func(a, b mls.Rumor) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(buf) > m.opts.BufferSize {
		buf = slices.Clone(buf[len(buf)-m.opts.BufferSize:])
	}
	m.buffers[h] = buf

	if newest > m.lastMessageAt[h] {
		m.lastMessageAt[h] = newest
		m.publishUnreadLocked()
	}
}

// MarkGroupSeen stores ts (clamped to >= 0) as the read watermark of group,
// in memory and durably. It is a no-op while the manager is stopped.
func (m *Manager) MarkGroupSeen(ctx context.Context, group mls.GroupID, ts int64) {
	ts = max(ts, 0)
	h := group.Hex()

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.lastSeenAt[h] = ts
	m.publishUnreadLocked()
	m.mu.Unlock()

	if err := m.watermarks.SetLastSeen(ctx, h, ts); err != nil {
		m.log.Warnw("MarkGroupSeen: persist failed", "group", h, "err", err)
	}
}

// publishUnreadLocked recomputes the sorted unread list and publishes it when
// it changed. Callers hold mu.
func (m *Manager) publishUnreadLocked() {
	var unread []string
	for h, last := range m.lastMessageAt {
		if last > m.lastSeenAt[h] {
			unread = append(unread, h)
		}
	}
	slices.Sort(unread)
	if slices.Equal(unread, m.unread.Get()) {
		return
	}
	m.unread.Set(unread)
	m.opts.Metrics.UnreadGroups(len(unread))
}

// Unread is the observable, lexicographically sorted list of unread group ids.
func (m *Manager) Unread() *observable.Value[[]string] {
	return m.unread
}

// UnreadGroupIDs returns the current unread list.
func (m *Manager) UnreadGroupIDs() []string {
	return slices.Clone(m.unread.Get())
}

// Messages returns a copy of the buffered messages of group, oldest first.
func (m *Manager) Messages(group mls.GroupID) []mls.Rumor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.buffers[group.Hex()])
}

// LastMessageAt returns the newest message timestamp seen for group.
func (m *Manager) LastMessageAt(group mls.GroupID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessageAt[group.Hex()]
}

// SubscriptionState returns the lifecycle state of group's subscription.
func (m *Manager) SubscriptionState(group mls.GroupID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[group.Hex()]; ok {
		return e.state
	}
	return StateAbsent
}

// Subscribed returns the sorted ids of groups with a subscription entry.
func (m *Manager) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.entries))
}

// OnMessages registers fn to receive exactly the newly merged messages of
// group. The returned function unregisters it.
func (m *Manager) OnMessages(group mls.GroupID, fn func([]mls.Rumor)) (unregister func()) {
	h := group.Hex()
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextCallback
	m.nextCallback++
	if m.callbacks[h] == nil {
		m.callbacks[h] = make(map[int]func([]mls.Rumor))
	}
	m.callbacks[h][id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callbacks[h], id)
	}
}
