package keypair

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoad(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "keys", "id.json")
	if err := kp.Save(path, false); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := kp.Save(path, false); err == nil {
		t.Error("Save() overwrote an existing file")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.PublicKey() != kp.PublicKey() {
		t.Error("loaded key differs")
	}
	msg := []byte("rock-destroyer")
	if !ed25519.Verify(kp.PrivateKey().Public().(ed25519.PublicKey), msg, ed25519.Sign(loaded.PrivateKey(), msg)) {
		t.Error("loaded key does not sign for the saved public key")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "hello"},
		{"short", "[1,2,3]"},
		{"out of range", "[256" + repeat(",0", 63) + "]"},
		{"mismatched public half", "[1" + repeat(",0", 63) + "]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			os.WriteFile(path, []byte(tt.content), 0o600)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded")
			}
		})
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func TestFromSeedPhrase(t *testing.T) {
	a, err := FromSeedPhrase("pill tomorrow foster begin walnut borrow virtual kick shift mutual shoe scatter", "")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := FromSeedPhrase("  pill tomorrow foster begin walnut borrow\tvirtual kick shift mutual shoe scatter ", "")
	if a.PublicKey() != b.PublicKey() {
		t.Error("whitespace changed the derived key")
	}
	c, _ := FromSeedPhrase("pill tomorrow foster begin walnut borrow virtual kick shift mutual shoe scatter", "secret")
	if a.PublicKey() == c.PublicKey() {
		t.Error("passphrase did not change the derived key")
	}
	if _, err := FromSeedPhrase("   ", ""); !errors.Is(err, ErrEmptyPhrase) {
		t.Errorf("empty phrase error = %v", err)
	}
}

func TestFromBytes(t *testing.T) {
	kp, _ := FromSeed(make([]byte, 32))
	again, err := FromBytes(kp.PrivateKey())
	if err != nil || again.PublicKey() != kp.PublicKey() {
		t.Errorf("FromBytes() = %v, %v", again, err)
	}
	if _, err := FromBytes(make([]byte, 10)); !errors.Is(err, ErrInvalidKeypair) {
		t.Errorf("short key error = %v", err)
	}
	if _, err := FromSeed(make([]byte, 5)); err == nil {
		t.Error("FromSeed accepted a short seed")
	}
}
