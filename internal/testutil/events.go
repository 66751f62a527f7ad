package testutil

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/marmot-sync/mls"
)

// Sender is the pubkey used for generated rumors.
var Sender = strings.Repeat("5e", 32)

// HexID renders n as a 64-char hex id. Different namespaces keep outer event
// ids and rumor ids apart.
func HexID(namespace byte, n int) string {
	return fmt.Sprintf("%02x%062x", namespace, n)
}

// Rumor builds an application-message rumor with id HexID('r', n).
func Rumor(n int, createdAt nostr.Timestamp) nostr.Event {
	return nostr.Event{
		ID:        HexID('r', n),
		PubKey:    Sender,
		CreatedAt: createdAt,
		Kind:      9,
		Tags:      nostr.Tags{},
		Content:   fmt.Sprintf("message %d", n),
	}
}

// GroupEvent wraps rumor n as a kind-445 event for group, with outer id
// HexID('e', n). The fake Group.Ingest reads the rumor back from content.
func GroupEvent(group mls.GroupID, n int, createdAt nostr.Timestamp) *nostr.Event {
	r := Rumor(n, createdAt)
	raw, err := r.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return &nostr.Event{
		ID:        HexID('e', n),
		PubKey:    strings.Repeat("0e", 32),
		CreatedAt: createdAt,
		Kind:      mls.KindGroupMessage,
		Tags:      nostr.Tags{{mls.GroupTag, group.Hex()}},
		Content:   string(raw),
	}
}

// RawGroupEvent builds a kind-445 event with arbitrary content.
func RawGroupEvent(group mls.GroupID, id string, content string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    strings.Repeat("0e", 32),
		CreatedAt: 1,
		Kind:      mls.KindGroupMessage,
		Tags:      nostr.Tags{{mls.GroupTag, group.Hex()}},
		Content:   content,
	}
}

// GiftWrap builds a kind-1059 envelope addressed to recipient.
func GiftWrap(n int, recipient string, createdAt nostr.Timestamp) *nostr.Event {
	return &nostr.Event{
		ID:        HexID('w', n),
		PubKey:    strings.Repeat("77", 32),
		CreatedAt: createdAt,
		Kind:      mls.KindGiftWrap,
		Tags:      nostr.Tags{{"p", recipient}},
		Content:   fmt.Sprintf("ciphertext %d", n),
	}
}

// Welcome builds a kind-444 welcome rumor referencing a key package.
func Welcome(n int, keyPackageID string, relays ...string) nostr.Event {
	tags := nostr.Tags{}
	if len(relays) > 0 {
		tags = append(tags, append(nostr.Tag{"relays"}, relays...))
	}
	if keyPackageID != "" {
		tags = append(tags, nostr.Tag{"e", keyPackageID})
	}
	return nostr.Event{
		ID:        HexID('c', n),
		PubKey:    Sender,
		CreatedAt: nostr.Timestamp(1000 + n),
		Kind:      mls.KindWelcome,
		Tags:      tags,
		// version 1, wire format 3 (welcome), cipher suite 1
		Content: "000100030001",
	}
}
