// Package mls declares the contract this repository consumes from an MLS
// group engine. The engine owns group state, epochs and the ratchet tree; the
// synchronization layer only lists groups, reads their relay hints and feeds
// them raw relay events.
package mls

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds used by Marmot groups.
const (
	KindKeyPackage   = 443
	KindWelcome      = 444
	KindGroupMessage = 445
	KindGiftWrap     = 1059
	KindInboxRelays  = 10050

	// GroupTag is the tag that routes group traffic on relays.
	GroupTag = "h"
)

// GroupID is the fixed-length binary MLS group identifier.
type GroupID []byte

// Hex is the stable map key used for a group everywhere in this repository.
func (id GroupID) Hex() string { return hex.EncodeToString(id) }

func (id GroupID) String() string { return id.Hex() }

// GroupIDFromHex parses the hex rendering of a group id.
func GroupIDFromHex(s string) (GroupID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("mls: invalid group id %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("mls: empty group id")
	}
	return GroupID(b), nil
}

// ErrGroupNotFound is returned by Client.Group for unknown ids.
var ErrGroupNotFound = errors.New("mls: group not found")

// Client is the engine bound to one identity's persistence stores.
type Client interface {
	// GroupIDs lists the groups the identity currently belongs to.
	GroupIDs(ctx context.Context) ([]GroupID, error)
	// Group loads a group handle.
	Group(ctx context.Context, id GroupID) (Group, error)
	// JoinFromWelcome joins the group described by a welcome rumor.
	JoinFromWelcome(ctx context.Context, welcome *nostr.Event, keyPackageEventID string) (Group, error)
}

// Group is a handle on one MLS group.
type Group interface {
	ID() GroupID
	// Relays are the relays the group's traffic is published to.
	Relays() []string
	// Epoch is the current epoch of the group's cryptographic state.
	Epoch() uint64
	// Ingest applies raw kind-445 events and yields one result per outcome.
	// An event that fails to apply yields a result with Err set; iteration
	// continues with the rest of the batch.
	Ingest(ctx context.Context, events []*nostr.Event) iter.Seq[IngestResult]
}

// ResultKind tags an IngestResult.
type ResultKind int

const (
	ResultApplicationMessage ResultKind = iota
	ResultCommit
	ResultProposal
	ResultSkipped
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultApplicationMessage:
		return "applicationMessage"
	case ResultCommit:
		return "commit"
	case ResultProposal:
		return "proposal"
	case ResultSkipped:
		return "skipped"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// IngestResult is one outcome of Group.Ingest.
type IngestResult struct {
	Kind ResultKind
	// Event is the raw event the result was produced from, when known.
	Event *nostr.Event
	// Payload carries the decrypted application message for
	// ResultApplicationMessage.
	Payload []byte
	Err     error
}
