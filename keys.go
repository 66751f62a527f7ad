package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/nbd-wtf/go-nostr/nip19"
)

type Keys struct {
	SK   string
	PK   string
	NPub string
}

// loadKeys reads the secret key from NOSTR_PRIVATE_KEY or, failing that,
// from the configured key file. Both hex and nsec are accepted.
func loadKeys(cfg Config) (Keys, error) {
	raw := strings.TrimSpace(os.Getenv("NOSTR_PRIVATE_KEY"))
	if raw == "" && cfg.PrivateKeyFile != "" {
		data, err := os.ReadFile(expandHome(cfg.PrivateKeyFile))
		if err != nil {
			return Keys{}, fmt.Errorf("failed to read key file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return Keys{}, fmt.Errorf("NOSTR_PRIVATE_KEY not set and no private_key_file configured")
	}
	return parseKeys(raw)
}

func parseKeys(raw string) (Keys, error) {
	sk := raw
	if strings.HasPrefix(raw, "nsec") {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return Keys{}, fmt.Errorf("failed to decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return Keys{}, fmt.Errorf("expected nsec prefix, got %s", prefix)
		}
		sk = val.(string)
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return Keys{}, fmt.Errorf("failed to derive public key: %w", err)
	}

	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return Keys{}, fmt.Errorf("failed to encode npub: %w", err)
	}

	return Keys{SK: sk, PK: pk, NPub: npub}, nil
}

func (k Keys) signer() (nostr.Keyer, error) {
	kr, err := keyer.NewPlainKeySigner(k.SK)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return kr, nil
}

func expandHome(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return home + "/" + rest
		}
	}
	return p
}
