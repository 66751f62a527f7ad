// Package relay is the network facade over a go-nostr relay pool: one-shot
// historical queries, long-lived push subscriptions, and publishing.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// ErrNoRelays is returned when an operation is given an empty relay set.
var ErrNoRelays = errors.New("relay: no relays")

// Network is what the synchronization managers consume.
type Network interface {
	// RequestOnce returns the stored events matching filter, deduplicated by
	// id. It returns when every relay has signalled end of stored events or
	// ctx is done; events gathered before a timeout are still returned.
	RequestOnce(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
	// SubscribeLive streams matching events until ctx is cancelled, after
	// which the channel is closed.
	SubscribeLive(ctx context.Context, relays []string, filter nostr.Filter) (<-chan *nostr.Event, error)
	// Publish sends evt to every relay.
	Publish(ctx context.Context, relays []string, evt nostr.Event) error
}

// Pool is the subset of *nostr.SimplePool the facade needs.
type Pool interface {
	FetchMany(ctx context.Context, urls []string, filter nostr.Filter, opts ...nostr.SubscriptionOption) chan nostr.RelayEvent
	SubscribeMany(ctx context.Context, urls []string, filter nostr.Filter, opts ...nostr.SubscriptionOption) chan nostr.RelayEvent
	PublishMany(ctx context.Context, urls []string, evt nostr.Event) chan nostr.PublishResult
}

// Facade implements Network on top of a Pool.
type Facade struct {
	pool Pool
	log  *zap.SugaredLogger
}

func NewFacade(pool Pool, log *zap.SugaredLogger) *Facade {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Facade{pool: pool, log: log.Named("relay")}
}

func (f *Facade) RequestOnce(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	seen := make(map[string]struct{})
	var out []*nostr.Event
	for re := range f.pool.FetchMany(ctx, relays, filter) {
		if re.Event == nil {
			continue
		}
		if _, dup := seen[re.ID]; dup {
			continue
		}
		seen[re.ID] = struct{}{}
		out = append(out, re.Event)
	}
	if err := ctx.Err(); err != nil && len(out) == 0 {
		return nil, fmt.Errorf("relay: request: %w", err)
	}
	f.log.Debugw("RequestOnce: done", "relays", len(relays), "kinds", filter.Kinds, "events", len(out))
	return out, nil
}

func (f *Facade) SubscribeLive(ctx context.Context, relays []string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	in := f.pool.SubscribeMany(ctx, relays, filter)
	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for re := range in {
			if re.Event == nil {
				continue
			}
			select {
			case out <- re.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Facade) Publish(ctx context.Context, relays []string, evt nostr.Event) error {
	if len(relays) == 0 {
		return ErrNoRelays
	}

	var (
		errs *multierror.Error
		ok   int
	)
	for res := range f.pool.PublishMany(ctx, relays, evt) {
		if res.Error != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", res.RelayURL, res.Error))
			continue
		}
		ok++
	}
	if ok == 0 && errs != nil {
		return fmt.Errorf("relay: publish %s: %w", evt.ID, errs.ErrorOrNil())
	}
	if errs != nil {
		f.log.Warnw("Publish: partial failure", "id", evt.ID, "ok", ok, "err", errs.ErrorOrNil())
	}
	return nil
}
