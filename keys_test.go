package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestParseKeys(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	wantPK, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("hex", func(t *testing.T) {
		keys, err := parseKeys(sk)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keys.PK != wantPK {
			t.Errorf("PK = %s, want %s", keys.PK, wantPK)
		}
		if !strings.HasPrefix(keys.NPub, "npub1") {
			t.Errorf("NPub = %q, want npub1 prefix", keys.NPub)
		}
	})

	t.Run("nsec", func(t *testing.T) {
		nsec, err := nip19.EncodePrivateKey(sk)
		if err != nil {
			t.Fatal(err)
		}
		keys, err := parseKeys(nsec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keys.SK != sk {
			t.Error("nsec did not decode to the same secret key")
		}
		if keys.PK != wantPK {
			t.Errorf("PK = %s, want %s", keys.PK, wantPK)
		}
	})

	t.Run("npub rejected", func(t *testing.T) {
		npub, _ := nip19.EncodePublicKey(wantPK)
		if _, err := parseKeys(npub); err == nil {
			t.Error("expected error for npub")
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		if _, err := parseKeys("nsec1notakey"); err == nil {
			t.Error("expected error for invalid nsec")
		}
	})
}

func TestLoadKeys(t *testing.T) {
	sk := nostr.GeneratePrivateKey()

	t.Run("env wins over file", func(t *testing.T) {
		other := nostr.GeneratePrivateKey()
		file := filepath.Join(t.TempDir(), "key")
		if err := os.WriteFile(file, []byte(other+"\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("NOSTR_PRIVATE_KEY", sk)
		keys, err := loadKeys(Config{PrivateKeyFile: file})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keys.SK != sk {
			t.Error("expected key from environment")
		}
	})

	t.Run("file when env unset", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "key")
		if err := os.WriteFile(file, []byte("  "+sk+"\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("NOSTR_PRIVATE_KEY", "")
		keys, err := loadKeys(Config{PrivateKeyFile: file})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keys.SK != sk {
			t.Error("expected key from file")
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		t.Setenv("NOSTR_PRIVATE_KEY", "")
		if _, err := loadKeys(Config{PrivateKeyFile: filepath.Join(t.TempDir(), "nope")}); err == nil {
			t.Error("expected error for missing key file")
		}
	})

	t.Run("nothing configured errors", func(t *testing.T) {
		t.Setenv("NOSTR_PRIVATE_KEY", "")
		if _, err := loadKeys(Config{}); err == nil {
			t.Error("expected error without any key source")
		}
	})
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/keys/nsec"); got != home+"/keys/nsec" {
		t.Errorf("expandHome = %q, want %q", got, home+"/keys/nsec")
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome changed absolute path: %q", got)
	}
}
