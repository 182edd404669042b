package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
)

// Helper to build a key set of freshly generated wallets.
func testKeySet(hodl, bank int) KeySet {
	var keys KeySet
	for i := 0; i < hodl; i++ {
		keys.Hodl = append(keys.Hodl, solana.NewWallet().PrivateKey.String())
	}
	for i := 0; i < bank; i++ {
		keys.Bank = append(keys.Bank, solana.NewWallet().PrivateKey.String())
	}
	return keys
}

func TestSealOpen_RoundTrip(t *testing.T) {
	keys := testKeySet(1, 2)

	blob, err := Seal(keys, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	got, err := Open(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(got.Hodl) != 1 || len(got.Bank) != 2 {
		t.Fatalf("Open() returned %d/%d keys, want 1/2", len(got.Hodl), len(got.Bank))
	}
	for i := range keys.Hodl {
		if got.Hodl[i] != keys.Hodl[i] {
			t.Errorf("hodl key %d changed across round trip", i)
		}
	}
	for i := range keys.Bank {
		if got.Bank[i] != keys.Bank[i] {
			t.Errorf("bank key %d changed across round trip", i)
		}
	}

	// The ciphertext must not leak the base58 material.
	if string(blob) == "" || containsAny(blob, keys.Hodl) || containsAny(blob, keys.Bank) {
		t.Error("sealed blob contains plaintext key material")
	}

	if _, err := Open(blob, "wrong passphrase"); err == nil {
		t.Error("Open() with wrong passphrase succeeded")
	}
}

func containsAny(blob []byte, secrets []string) bool {
	for _, secret := range secrets {
		if strings.Contains(string(blob), secret) {
			return true
		}
	}
	return false
}

func TestSeal_Validation(t *testing.T) {
	valid := testKeySet(1, 1)

	badBase58 := valid
	badBase58.Hodl = []string{"not-base58-0OIl"}

	tests := []struct {
		name       string
		keys       KeySet
		passphrase string
	}{
		{"empty_passphrase", valid, ""},
		{"malformed_key", badBase58, "pw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Seal(tt.keys, tt.passphrase); err == nil {
				t.Error("Seal() accepted invalid input")
			}
		})
	}
}

func TestOpen_RejectsTamperedBlob(t *testing.T) {
	blob, err := Seal(testKeySet(1, 1), "pw")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	var stored keyfileJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		t.Fatalf("unmarshal blob: %v", err)
	}
	stored.Version = 9
	tampered, _ := json.Marshal(stored)

	if _, err := Open(tampered, "pw"); err == nil {
		t.Error("Open() accepted unsupported version")
	}
	if _, err := Open([]byte("{garbage"), "pw"); err == nil {
		t.Error("Open() accepted non-JSON input")
	}
}

func TestLoadKeyfile(t *testing.T) {
	hodlWallet := solana.NewWallet()
	bankWallet := solana.NewWallet()
	keys := KeySet{
		Hodl: []string{hodlWallet.PrivateKey.String()},
		Bank: []string{bankWallet.PrivateKey.String()},
	}

	blob, err := Seal(keys, "pw")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write keyfile: %v", err)
	}

	hodl, bank, err := LoadKeyfile(path, "pw")
	if err != nil {
		t.Fatalf("LoadKeyfile() error = %v", err)
	}
	if len(hodl) != 1 || len(bank) != 1 {
		t.Fatalf("LoadKeyfile() returned %d/%d keys, want 1/1", len(hodl), len(bank))
	}
	if !hodl[0].PublicKey().Equals(hodlWallet.PublicKey()) {
		t.Error("hodl key does not round-trip to the same public key")
	}
	if !bank[0].PublicKey().Equals(bankWallet.PublicKey()) {
		t.Error("bank key does not round-trip to the same public key")
	}

	if _, _, err := LoadKeyfile(filepath.Join(t.TempDir(), "missing.json"), "pw"); err == nil {
		t.Error("LoadKeyfile() with missing file succeeded")
	}
}
