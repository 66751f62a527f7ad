package inbox

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/marmot-sync/relay"
)

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusArchived:
		return true
	}
	return false
}

// PendingInvite is one welcome received through a gift-wrapped envelope.
type PendingInvite struct {
	// ID is the id of the enclosing envelope.
	ID                string      `cbor:"1,keyasint"`
	Envelope          nostr.Event `cbor:"2,keyasint"`
	Welcome           nostr.Event `cbor:"3,keyasint"`
	ReceivedAt        int64       `cbor:"4,keyasint"`
	Relays            []string    `cbor:"5,keyasint,omitempty"`
	KeyPackageEventID string      `cbor:"6,keyasint,omitempty"`
	CipherSuite       string      `cbor:"7,keyasint,omitempty"`
	Status            Status      `cbor:"8,keyasint"`
}

// UnknownCipherSuite is the label used when the welcome cannot be decoded.
const UnknownCipherSuite = "unknown"

// Cipher suites registered in RFC 9420, section 17.1.
var cipherSuites = map[uint16]string{
	0x0001: "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519",
	0x0002: "MLS_128_DHKEMP256_AES128GCM_SHA256_P256",
	0x0003: "MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519",
	0x0004: "MLS_256_DHKEMX448_AES256GCM_SHA512_Ed448",
	0x0005: "MLS_256_DHKEMP521_AES256GCM_SHA512_P521",
	0x0006: "MLS_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448",
	0x0007: "MLS_256_DHKEMP384_AES256GCM_SHA384_P384",
}

const wireFormatWelcome = 0x0003

// newInvite builds a pending invite from an envelope and its welcome rumor.
func newInvite(envelope *nostr.Event, welcome nostr.Event, receivedAt int64) PendingInvite {
	return PendingInvite{
		ID:                envelope.ID,
		Envelope:          *envelope,
		Welcome:           welcome,
		ReceivedAt:        receivedAt,
		Relays:            welcomeRelays(welcome),
		KeyPackageEventID: keyPackageRef(welcome),
		CipherSuite:       CipherSuiteLabel(welcome),
		Status:            StatusPending,
	}
}

// welcomeRelays reads the relay hints of a welcome's "relays" tag.
func welcomeRelays(w nostr.Event) []string {
	var hints []string
	for _, tag := range w.Tags {
		if len(tag) >= 2 && tag[0] == "relays" {
			hints = append(hints, tag[1:]...)
		}
	}
	return relay.Merge(hints)
}

// keyPackageRef returns the key package event id referenced by the first
// "e" tag.
func keyPackageRef(w nostr.Event) string {
	return tagValue(w.Tags, "e")
}

func tagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// CipherSuiteLabel decodes the cipher suite from the serialized MLSMessage in
// a welcome's content. Any decoding failure yields UnknownCipherSuite.
func CipherSuiteLabel(w nostr.Event) string {
	raw, err := welcomeBytes(w)
	if err != nil || len(raw) < 6 {
		return UnknownCipherSuite
	}
	if binary.BigEndian.Uint16(raw[2:4]) != wireFormatWelcome {
		return UnknownCipherSuite
	}
	id := binary.BigEndian.Uint16(raw[4:6])
	if label, ok := cipherSuites[id]; ok {
		return label
	}
	return fmt.Sprintf("0x%04x", id)
}

func welcomeBytes(w nostr.Event) ([]byte, error) {
	content := strings.TrimSpace(w.Content)
	if tagValue(w.Tags, "encoding") == "base64" {
		return base64.StdEncoding.DecodeString(content)
	}
	return hex.DecodeString(content)
}
