package relay

import (
	"context"
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/pinpox/marmot-sync/mls"
	"github.com/pinpox/marmot-sync/observable"
)

// WatchInboxRelays tracks the kind-10050 inbox relay list of pubkey as
// published on the bootstrap relays. The returned value starts empty and
// follows the newest list seen until ctx is cancelled.
func WatchInboxRelays(ctx context.Context, n Network, bootstrap []string, pubkey string, log *zap.SugaredLogger) *observable.Value[[]string] {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("relay")
	val := observable.New[[]string](nil)

	filter := nostr.Filter{
		Kinds:   []int{mls.KindInboxRelays},
		Authors: []string{pubkey},
	}

	go func() {
		var newest nostr.Timestamp = -1
		apply := func(evt *nostr.Event) {
			if evt.PubKey != pubkey || evt.Kind != mls.KindInboxRelays || evt.CreatedAt <= newest {
				return
			}
			newest = evt.CreatedAt
			list := ParseRelayList(evt)
			if !slices.Equal(list, val.Get()) {
				log.Infow("WatchInboxRelays: relay list changed", "relays", list)
				val.Set(list)
			}
		}

		live, err := n.SubscribeLive(ctx, bootstrap, filter)
		if err != nil {
			log.Warnw("WatchInboxRelays: subscribe failed", "err", err)
			return
		}

		stored, err := n.RequestOnce(ctx, bootstrap, filter)
		if err != nil {
			log.Debugw("WatchInboxRelays: initial fetch failed", "err", err)
		}
		for _, evt := range stored {
			apply(evt)
		}
		for evt := range live {
			apply(evt)
		}
	}()
	return val
}

// ParseRelayList extracts the "relay" tags of a relay list event, normalized
// and deduplicated in their original order.
func ParseRelayList(evt *nostr.Event) []string {
	var out []string
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "relay" {
			continue
		}
		u := NormalizeURL(tag[1])
		if u == "" || slices.Contains(out, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// NormalizeURL applies go-nostr's URL normalization and rejects anything that
// does not end up as a websocket URL.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	n := nostr.NormalizeURL(u)
	if !strings.HasPrefix(n, "wss://") && !strings.HasPrefix(n, "ws://") {
		return ""
	}
	return n
}

// Merge concatenates relay sets, dropping duplicates but keeping first-seen
// order.
func Merge(sets ...[]string) []string {
	var out []string
	for _, set := range sets {
		for _, u := range set {
			u = NormalizeURL(u)
			if u == "" || slices.Contains(out, u) {
				continue
			}
			out = append(out, u)
		}
	}
	return out
}
