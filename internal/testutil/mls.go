package testutil

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/marmot-sync/mls"
)

// Payload prefixes understood by Group.Ingest.
const (
	CommitPayload = "commit:"
	BrokenPayload = "broken:"
)

// Client is a scripted mls.Client.
type Client struct {
	mu      sync.Mutex
	groups  map[string]*Group
	order   []string
	listErr error
	joined  []string
	joinErr error
	hold    *hold
}

// hold parks the next call to a scripted method until released.
type hold struct {
	entered chan struct{}
	release chan struct{}
}

func newHold() (*hold, <-chan struct{}, func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	return h, h.entered, sync.OnceFunc(func() { close(h.release) })
}

func (h *hold) wait(ctx context.Context) {
	close(h.entered)
	select {
	case <-h.release:
	case <-ctx.Done():
	}
}

func NewClient() *Client {
	return &Client{groups: make(map[string]*Group)}
}

// AddGroup registers a group and returns it.
func (c *Client) AddGroup(id mls.GroupID, relays ...string) *Group {
	g := &Group{id: id, relays: relays}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[id.Hex()]; !ok {
		c.order = append(c.order, id.Hex())
	}
	c.groups[id.Hex()] = g
	return g
}

// RemoveGroup drops a group from the authoritative list.
func (c *Client) RemoveGroup(id mls.GroupID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, id.Hex())
	c.order = slices.DeleteFunc(c.order, func(h string) bool { return h == id.Hex() })
}

// FailList makes GroupIDs return err.
func (c *Client) FailList(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

// FailJoin makes JoinFromWelcome return err.
func (c *Client) FailJoin(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinErr = err
}

// HoldNextList parks the next GroupIDs call. entered is closed once the call
// is parked; release lets it continue.
func (c *Client) HoldNextList() (entered <-chan struct{}, release func()) {
	h, entered, release := newHold()
	c.mu.Lock()
	c.hold = h
	c.mu.Unlock()
	return entered, release
}

func (c *Client) GroupIDs(ctx context.Context) ([]mls.GroupID, error) {
	c.mu.Lock()
	if h := c.hold; h != nil {
		c.hold = nil
		c.mu.Unlock()
		h.wait(ctx)
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]mls.GroupID, 0, len(c.order))
	for _, h := range c.order {
		out = append(out, c.groups[h].id)
	}
	return out, nil
}

func (c *Client) Group(_ context.Context, id mls.GroupID) (mls.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[id.Hex()]
	if !ok {
		return nil, mls.ErrGroupNotFound
	}
	return g, nil
}

func (c *Client) JoinFromWelcome(_ context.Context, welcome *nostr.Event, keyPackageEventID string) (mls.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return nil, c.joinErr
	}
	c.joined = append(c.joined, welcome.ID+"/"+keyPackageEventID)
	id := mls.GroupID(welcome.ID[:8])
	g := &Group{id: id}
	c.groups[id.Hex()] = g
	c.order = append(c.order, id.Hex())
	return g, nil
}

// Joined lists "welcomeID/keyPackageID" for every successful join.
func (c *Client) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.joined)
}

// Group is a scripted mls.Group. Ingest treats an event's content as the
// decrypted payload: CommitPayload advances the epoch, BrokenPayload yields an
// error result, anything else is an application message.
type Group struct {
	id     mls.GroupID
	relays []string

	mu       sync.Mutex
	epoch    uint64
	ingested []string
	hold     *hold
}

func (g *Group) ID() mls.GroupID  { return g.id }
func (g *Group) Relays() []string { return g.relays }

func (g *Group) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// HoldNextIngest parks the next Ingest call before its first event.
func (g *Group) HoldNextIngest() (entered <-chan struct{}, release func()) {
	h, entered, release := newHold()
	g.mu.Lock()
	g.hold = h
	g.mu.Unlock()
	return entered, release
}

func (g *Group) Ingest(ctx context.Context, events []*nostr.Event) iter.Seq[mls.IngestResult] {
	return func(yield func(mls.IngestResult) bool) {
		g.mu.Lock()
		h := g.hold
		g.hold = nil
		g.mu.Unlock()
		if h != nil {
			h.wait(ctx)
		}
		for _, evt := range events {
			g.mu.Lock()
			g.ingested = append(g.ingested, evt.ID)
			g.mu.Unlock()

			var res mls.IngestResult
			switch {
			case strings.HasPrefix(evt.Content, CommitPayload):
				g.mu.Lock()
				g.epoch++
				g.mu.Unlock()
				res = mls.IngestResult{Kind: mls.ResultCommit, Event: evt}
			case strings.HasPrefix(evt.Content, BrokenPayload):
				res = mls.IngestResult{Kind: mls.ResultError, Event: evt, Err: fmt.Errorf("cannot apply %s", evt.ID)}
			default:
				res = mls.IngestResult{Kind: mls.ResultApplicationMessage, Event: evt, Payload: []byte(evt.Content)}
			}
			if !yield(res) {
				return
			}
		}
	}
}

// Ingested lists the ids of every raw event passed to Ingest, in order.
func (g *Group) Ingested() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.ingested)
}
