package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
)

const historyGroupTag = "h"

// History stores decrypted group messages. Messages are keyed by id and
// indexed by (group, created_at) through the "h" tag.
type History struct {
	acc    *Account
	events eventstore.Store
}

// Save stores rumor under groupHex. Saving an id twice is a no-op.
func (h *History) Save(ctx context.Context, groupHex string, rumor nostr.Event) error {
	h.acc.mu.RLock()
	defer h.acc.mu.RUnlock()
	if h.acc.closed {
		return ErrClosed
	}

	evt := rumor
	evt.Tags = withGroupTag(rumor.Tags, groupHex)
	if err := h.events.SaveEvent(ctx, &evt); err != nil {
		if errors.Is(err, eventstore.ErrDupEvent) {
			return nil
		}
		return fmt.Errorf("store: save %s: %w", shortKey(rumor.ID), err)
	}
	return nil
}

// Recent returns up to limit of the newest messages of a group, oldest first.
func (h *History) Recent(ctx context.Context, groupHex string, limit int) ([]nostr.Event, error) {
	return h.Range(ctx, groupHex, 0, 0, limit)
}

// Range returns up to limit messages with since <= created_at <= until,
// keeping the newest when more match. Zero bounds are open. The result is
// sorted by created_at ascending.
func (h *History) Range(ctx context.Context, groupHex string, since, until nostr.Timestamp, limit int) ([]nostr.Event, error) {
	h.acc.mu.RLock()
	defer h.acc.mu.RUnlock()
	if h.acc.closed {
		return nil, ErrClosed
	}

	filter := nostr.Filter{
		Tags:  nostr.TagMap{historyGroupTag: []string{groupHex}},
		Limit: limit,
	}
	if since > 0 {
		filter.Since = &since
	}
	if until > 0 {
		filter.Until = &until
	}

	ch, err := h.events.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	var out []nostr.Event
	for evt := range ch {
		out = append(out, *evt)
	}
	sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func withGroupTag(tags nostr.Tags, groupHex string) nostr.Tags {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == historyGroupTag && tag[1] == groupHex {
			return tags
		}
	}
	out := make(nostr.Tags, 0, len(tags)+1)
	out = append(out, tags...)
	return append(out, nostr.Tag{historyGroupTag, groupHex})
}

func sortByCreatedAt(evts []nostr.Event) {
	slices.SortStableFunc(evts, func(a, b nostr.Event) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
