package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestIdentityRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if encoded[:4] != "eng1" {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	raw, err := ParseIdentity(encoded)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if raw != addr.Raw() {
		t.Fatalf("identity mismatch")
	}
	if FormatIdentity(raw) != encoded {
		t.Fatalf("format mismatch")
	}
}

func TestParseIdentityHex(t *testing.T) {
	raw, err := ParseIdentity("0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if raw[19] != 0xaa {
		t.Fatalf("unexpected identity %x", raw)
	}
}

func TestParseIdentityRejectsForeignPrefix(t *testing.T) {
	foreign := MustNewAddress("nhb", bytes.Repeat([]byte{1}, 20)).String()
	if _, err := ParseIdentity(foreign); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := ParseIdentity(""); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for empty input, got %v", err)
	}
}

func TestDeriveVaultKeyDeterministic(t *testing.T) {
	master, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	first, err := DeriveVaultKey(master, "eng-1")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	again, err := DeriveVaultKey(master, "eng-1")
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !bytes.Equal(first.Bytes(), again.Bytes()) {
		t.Fatalf("vault key not deterministic")
	}
	other, err := DeriveVaultKey(master, "eng-2")
	if err != nil {
		t.Fatalf("derive other: %v", err)
	}
	if bytes.Equal(first.Bytes(), other.Bytes()) {
		t.Fatalf("distinct engagements share a vault key")
	}
	if VaultAddress("eng-1") == VaultAddress("eng-2") {
		t.Fatalf("distinct engagements share a vault address")
	}
}

func TestKeystoreLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "operator.keystore")
	created, fresh, err := LoadOrCreateKeystore(path, "pass")
	if err != nil {
		t.Fatalf("create keystore: %v", err)
	}
	if !fresh {
		t.Fatalf("expected a freshly generated key")
	}
	loaded, fresh, err := LoadOrCreateKeystore(path, "pass")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if fresh {
		t.Fatalf("expected existing key to be loaded")
	}
	if !bytes.Equal(created.Bytes(), loaded.Bytes()) {
		t.Fatalf("keystore round trip mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected decrypt failure with wrong passphrase")
	}
}

func TestKeystoreUsesStandardScrypt(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := SaveToKeystore(path, key, "pass"); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var file struct {
		Crypto struct {
			KDFParams struct {
				N int `json:"n"`
				P int `json:"p"`
			} `json:"kdfparams"`
		} `json:"crypto"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatalf("decode keystore: %v", err)
	}
	if file.Crypto.KDFParams.N != keystore.StandardScryptN || file.Crypto.KDFParams.P != keystore.StandardScryptP {
		t.Fatalf("scrypt params n=%d p=%d", file.Crypto.KDFParams.N, file.Crypto.KDFParams.P)
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("keystore mode %v %v", info, err)
	}
}
