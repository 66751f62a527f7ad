package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
	"go.uber.org/zap"

	"github.com/pinpox/marmot-sync/inbox"
	"github.com/pinpox/marmot-sync/mls"
	"github.com/pinpox/marmot-sync/relay"
	"github.com/pinpox/marmot-sync/session"
	"github.com/pinpox/marmot-sync/store"
)

// ─── Embedded relay ──────────────────────────────────────────────────────────

func startTestRelay(t *testing.T) (relayURL string, cleanup func()) {
	t.Helper()

	db := &slicestore.SliceStore{}
	if err := db.Init(); err != nil {
		t.Fatalf("db.Init: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	rl := khatru.NewRelay()
	rl.Info.Name = "marmot-sync-test-relay"
	rl.StoreEvent = append(rl.StoreEvent, db.SaveEvent)
	rl.QueryEvents = append(rl.QueryEvents, db.QueryEvents)

	server := &http.Server{Handler: rl}
	go func() { _ = server.Serve(ln) }()

	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	t.Logf("test relay running at %s", url)

	return url, func() {
		_ = server.Shutdown(context.Background())
		db.Close()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func generateTestKeys(t *testing.T) Keys {
	t.Helper()
	keys, err := parseKeys(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("parseKeys: %v", err)
	}
	return keys
}

// sendWelcome gift wraps a welcome from sender to recipient and publishes it.
func sendWelcome(t *testing.T, fac *relay.Facade, relayURL string, sender, recipient Keys) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kr, err := sender.signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	welcome := nostr.Event{
		Kind:      mls.KindWelcome,
		PubKey:    sender.PK,
		CreatedAt: nostr.Now(),
		Content:   "000100030001",
		Tags: nostr.Tags{
			{"e", "kp-event"},
			{"relays", relayURL},
		},
	}
	welcome.ID = welcome.GetID()

	wrap, err := nip59.GiftWrap(
		welcome,
		recipient.PK,
		func(plaintext string) (string, error) { return kr.Encrypt(ctx, plaintext, recipient.PK) },
		func(evt *nostr.Event) error { return kr.SignEvent(ctx, evt) },
		func(*nostr.Event) {},
	)
	if err != nil {
		t.Fatalf("GiftWrap: %v", err)
	}
	if err := fac.Publish(ctx, []string{relayURL}, wrap); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func waitFor(t *testing.T, tm *teatest.TestModel, substr string, timeout time.Duration) {
	t.Helper()
	teatest.WaitFor(t, tm.Output(),
		func(b []byte) bool {
			return bytes.Contains(b, []byte(substr))
		},
		teatest.WithDuration(timeout),
		teatest.WithCheckInterval(100*time.Millisecond),
	)
}

const defaultTimeout = 15 * time.Second

// ─── Integration Test ────────────────────────────────────────────────────────

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	relayURL, cleanup := startTestRelay(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := nostr.NewSimplePool(ctx)
	defer pool.Close("test done")
	fac := relay.NewFacade(pool, zap.NewNop().Sugar())

	alice := generateTestKeys(t)
	bob := generateTestKeys(t)

	bobSigner, err := bob.signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	broker := store.NewBroker(store.Options{RootDir: t.TempDir()})
	defer broker.Close()

	sess, err := session.Open(ctx, session.Config{
		ExtraInboxRelays:      []string{relayURL},
		InviteRefreshInterval: 200 * time.Millisecond,
		InviteRefreshTimeout:  2 * time.Second,
	}, session.Deps{
		Broker:   broker,
		Network:  fac,
		Identity: inbox.NewKeyerIdentity(bobSigner),
		Log:      zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	defer sess.Close()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("session.Start: %v", err)
	}

	m := newModel(ctx, sess, bob)
	tm := teatest.NewTestModel(t, &m, teatest.WithInitialTermSize(140, 30))
	defer func() { _ = tm.Quit() }()

	waitFor(t, tm, "no invitations yet", defaultTimeout)

	sendWelcome(t, fac, relayURL, alice, bob)

	// The invite row only renders once the list has arrived.
	waitFor(t, tm, "1 relays", defaultTimeout)

	invites := sess.Inbox().Invites().Get()
	if len(invites) != 1 {
		t.Fatalf("expected 1 invite, got %d", len(invites))
	}
	inv := invites[0]
	if inv.Welcome.PubKey != alice.PK {
		t.Errorf("welcome author = %s, want %s", inv.Welcome.PubKey, alice.PK)
	}
	if inv.KeyPackageEventID != "kp-event" {
		t.Errorf("KeyPackageEventID = %q, want %q", inv.KeyPackageEventID, "kp-event")
	}

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	waitFor(t, tm, "archived", defaultTimeout)

	got, ok := sess.Inbox().Invite(inv.ID)
	if !ok {
		t.Fatal("invite disappeared after archiving")
	}
	if got.Status != inbox.StatusArchived {
		t.Errorf("status = %s, want %s", got.Status, inbox.StatusArchived)
	}
	if n := sess.Inbox().Pending().Get(); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}

	// The same envelope again must not produce a second invite.
	if outcomes := sess.Inbox().Refresh(ctx); len(outcomes) != 1 || outcomes[0].Kind != inbox.Skipped {
		t.Errorf("refresh outcomes = %+v, want a single skip", outcomes)
	}
}
