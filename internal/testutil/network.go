// Package testutil holds fakes shared by package tests: an in-memory relay
// network, a scripted MLS client, and a scripted gift-wrap unwrapper.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Network is an in-memory relay.Network. Stored events answer RequestOnce;
// Emit pushes to every matching live subscription.
type Network struct {
	mu         sync.Mutex
	stored     []*nostr.Event
	subs       []*Sub
	requests   []Request
	published  []nostr.Event
	requestErr error
	// Gate, when set, blocks RequestOnce until it is closed.
	Gate chan struct{}
}

// Request records one RequestOnce call.
type Request struct {
	Relays []string
	Filter nostr.Filter
}

// Sub is one live subscription.
type Sub struct {
	Relays []string
	Filter nostr.Filter

	ctx    context.Context
	ch     chan *nostr.Event
	mu     sync.Mutex
	closed bool
}

// Closed reports whether the subscriber cancelled.
func (s *Sub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func NewNetwork() *Network {
	return &Network{}
}

// Store makes evts visible to RequestOnce.
func (n *Network) Store(evts ...*nostr.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stored = append(n.stored, evts...)
}

// FailRequests makes RequestOnce return err (nil restores success).
func (n *Network) FailRequests(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requestErr = err
}

func (n *Network) RequestOnce(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	n.mu.Lock()
	n.requests = append(n.requests, Request{Relays: slices.Clone(relays), Filter: filter})
	gate := n.Gate
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.requestErr != nil {
		return nil, n.requestErr
	}
	var out []*nostr.Event
	for _, evt := range n.stored {
		if filter.Matches(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (n *Network) SubscribeLive(ctx context.Context, relays []string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	if len(relays) == 0 {
		return nil, errors.New("testutil: no relays")
	}
	sub := &Sub{Relays: slices.Clone(relays), Filter: filter, ctx: ctx, ch: make(chan *nostr.Event)}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.mu.Lock()
		sub.closed = true
		close(sub.ch)
		sub.mu.Unlock()
	}()
	return sub.ch, nil
}

func (n *Network) Publish(_ context.Context, _ []string, evt nostr.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, evt)
	return nil
}

// Emit delivers evt to every open subscription whose filter matches and
// returns how many received it.
func (n *Network) Emit(evt *nostr.Event) int {
	n.mu.Lock()
	subs := slices.Clone(n.subs)
	n.mu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if !sub.Filter.Matches(evt) {
			continue
		}
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		case <-sub.ctx.Done():
		}
		sub.mu.Unlock()
	}
	return delivered
}

// Subs returns every subscription ever opened.
func (n *Network) Subs() []*Sub {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.subs)
}

// OpenSubs returns the subscriptions that are still live.
func (n *Network) OpenSubs() []*Sub {
	var out []*Sub
	for _, s := range n.Subs() {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	return out
}

// Requests returns every RequestOnce call made so far.
func (n *Network) Requests() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.requests)
}

// Published returns every event passed to Publish.
func (n *Network) Published() []nostr.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.published)
}
