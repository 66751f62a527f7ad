package mls

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ErrMalformedRumor wraps every DecodeRumor failure.
var ErrMalformedRumor = errors.New("mls: malformed rumor")

// Rumor is an unsigned, decrypted group chat message.
type Rumor = nostr.Event

// DecodeRumor parses an application-message payload into a Rumor. Rumors
// carry no signature; a missing id is derived from the serialized event.
func DecodeRumor(payload []byte) (Rumor, error) {
	var r Rumor
	if len(payload) == 0 {
		return r, fmt.Errorf("%w: empty payload", ErrMalformedRumor)
	}
	if err := r.UnmarshalJSON(payload); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformedRumor, err)
	}
	if !isHex32(r.PubKey) {
		return r, fmt.Errorf("%w: bad pubkey %q", ErrMalformedRumor, r.PubKey)
	}
	if r.CreatedAt < 0 {
		return r, fmt.Errorf("%w: negative created_at", ErrMalformedRumor)
	}
	if r.ID == "" {
		r.ID = r.GetID()
	} else if !isHex32(r.ID) {
		return r, fmt.Errorf("%w: bad id %q", ErrMalformedRumor, r.ID)
	}
	return r, nil
}

func isHex32(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
