package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	stored  []*nostr.Event
	live    chan nostr.RelayEvent
	publish map[string]error
	block   bool
}

func (p *fakePool) FetchMany(ctx context.Context, urls []string, _ nostr.Filter, _ ...nostr.SubscriptionOption) chan nostr.RelayEvent {
	ch := make(chan nostr.RelayEvent, len(p.stored)*len(urls))
	// every relay returns the same stored events
	for range urls {
		for _, evt := range p.stored {
			ch <- nostr.RelayEvent{Event: evt}
		}
	}
	if !p.block {
		close(ch)
		return ch
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (p *fakePool) SubscribeMany(context.Context, []string, nostr.Filter, ...nostr.SubscriptionOption) chan nostr.RelayEvent {
	return p.live
}

func (p *fakePool) PublishMany(_ context.Context, urls []string, _ nostr.Event) chan nostr.PublishResult {
	ch := make(chan nostr.PublishResult, len(urls))
	for _, u := range urls {
		ch <- nostr.PublishResult{RelayURL: u, Error: p.publish[u]}
	}
	close(ch)
	return ch
}

func event(id string) *nostr.Event {
	return &nostr.Event{ID: id, Kind: 1}
}

func TestRequestOnceDeduplicates(t *testing.T) {
	pool := &fakePool{stored: []*nostr.Event{event("a"), event("b")}}
	f := NewFacade(pool, nil)

	got, err := f.RequestOnce(context.Background(), []string{"wss://one", "wss://two"}, nostr.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestRequestOnceNoRelays(t *testing.T) {
	f := NewFacade(&fakePool{}, nil)
	_, err := f.RequestOnce(context.Background(), nil, nostr.Filter{})
	assert.ErrorIs(t, err, ErrNoRelays)

	_, err = f.SubscribeLive(context.Background(), nil, nostr.Filter{})
	assert.ErrorIs(t, err, ErrNoRelays)

	assert.ErrorIs(t, f.Publish(context.Background(), nil, nostr.Event{}), ErrNoRelays)
}

func TestRequestOnceTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	empty := NewFacade(&fakePool{block: true}, nil)
	_, err := empty.RequestOnce(ctx, []string{"wss://one"}, nostr.Filter{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	partial := NewFacade(&fakePool{block: true, stored: []*nostr.Event{event("a")}}, nil)
	got, err := partial.RequestOnce(ctx2, []string{"wss://one"}, nostr.Filter{})
	assert.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubscribeLive(t *testing.T) {
	live := make(chan nostr.RelayEvent, 3)
	live <- nostr.RelayEvent{Event: event("a")}
	live <- nostr.RelayEvent{}
	live <- nostr.RelayEvent{Event: event("b")}
	close(live)

	f := NewFacade(&fakePool{live: live}, nil)
	ch, err := f.SubscribeLive(context.Background(), []string{"wss://one"}, nostr.Filter{})
	require.NoError(t, err)

	var ids []string
	for evt := range ch {
		ids = append(ids, evt.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSubscribeLiveStopsOnCancel(t *testing.T) {
	live := make(chan nostr.RelayEvent)
	f := NewFacade(&fakePool{live: live}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.SubscribeLive(ctx, []string{"wss://one"}, nostr.Filter{})
	require.NoError(t, err)

	go func() { live <- nostr.RelayEvent{Event: event("a")} }()
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestPublish(t *testing.T) {
	boom := errors.New("boom")
	relays := []string{"wss://one", "wss://two"}

	partial := NewFacade(&fakePool{publish: map[string]error{"wss://one": boom}}, nil)
	assert.NoError(t, partial.Publish(context.Background(), relays, nostr.Event{ID: "x"}))

	failing := NewFacade(&fakePool{publish: map[string]error{"wss://one": boom, "wss://two": boom}}, nil)
	err := failing.Publish(context.Background(), relays, nostr.Event{ID: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "wss://two")
}
