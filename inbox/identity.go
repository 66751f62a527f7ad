package inbox

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"

	"github.com/pinpox/marmot-sync/mls"
)

// Identity is the active account as seen by the inbox: its public key and
// the ability to open envelopes addressed to it.
type Identity interface {
	PublicKey(ctx context.Context) (string, error)
	// Unwrap returns the rumor inside envelope, or an error when the envelope
	// is malformed or not addressed to this identity.
	Unwrap(ctx context.Context, envelope *nostr.Event) (nostr.Event, error)
}

// KeyerIdentity implements Identity with a nostr.Keyer and NIP-59 unwrapping.
type KeyerIdentity struct {
	kr nostr.Keyer
}

func NewKeyerIdentity(kr nostr.Keyer) *KeyerIdentity {
	return &KeyerIdentity{kr: kr}
}

func (k *KeyerIdentity) PublicKey(ctx context.Context) (string, error) {
	return k.kr.GetPublicKey(ctx)
}

func (k *KeyerIdentity) Unwrap(ctx context.Context, envelope *nostr.Event) (nostr.Event, error) {
	if envelope.Kind != mls.KindGiftWrap {
		return nostr.Event{}, fmt.Errorf("unwrap: kind %d is not a gift wrap", envelope.Kind)
	}
	return nip59.GiftUnwrap(
		*envelope,
		func(otherpubkey, ciphertext string) (string, error) { return k.kr.Decrypt(ctx, ciphertext, otherpubkey) },
	)
}
