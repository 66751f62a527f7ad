package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// ErrNotForUs is returned by Identity.Unwrap for unknown envelopes.
var ErrNotForUs = errors.New("testutil: envelope not addressed to us")

// Identity is a scripted inbox identity. Only envelopes registered with Seal
// unwrap successfully.
type Identity struct {
	PubKey string

	mu      sync.Mutex
	sealed  map[string]nostr.Event
	pkErr   error
	unwraps int
	failN   int
	failErr error
}

func NewIdentity(pubkey string) *Identity {
	return &Identity{PubKey: pubkey, sealed: make(map[string]nostr.Event)}
}

// Seal makes envelopeID unwrap to rumor.
func (id *Identity) Seal(envelopeID string, rumor nostr.Event) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.sealed[envelopeID] = rumor
}

// FailPublicKey makes PublicKey return err.
func (id *Identity) FailPublicKey(err error) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.pkErr = err
}

// FailUnwraps makes the next n Unwrap calls return err.
func (id *Identity) FailUnwraps(n int, err error) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.failN, id.failErr = n, err
}

// Unwraps returns how many times Unwrap was called.
func (id *Identity) Unwraps() int {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.unwraps
}

func (id *Identity) PublicKey(context.Context) (string, error) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.pkErr != nil {
		return "", id.pkErr
	}
	return id.PubKey, nil
}

func (id *Identity) Unwrap(_ context.Context, envelope *nostr.Event) (nostr.Event, error) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.unwraps++
	if id.failN > 0 {
		id.failN--
		return nostr.Event{}, id.failErr
	}
	rumor, ok := id.sealed[envelope.ID]
	if !ok {
		return nostr.Event{}, ErrNotForUs
	}
	return rumor, nil
}
