package security

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestGenerateKeypairThenReload(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateKeypair(dir, "host-a"); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	kr, err := NewKeyring(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if !kr.HasPublic("host-a") {
		t.Fatal("expected keyring to have loaded host-a's public key")
	}
}

func TestPrivateEncryptPublicDecryptRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateKeypair(dir, "signer"); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	kr, err := NewKeyring(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	digest := []byte("0123456789abcdef0123456789abcdef01234567")
	sig, err := kr.PrivateEncrypt("signer", digest)
	if err != nil {
		t.Fatalf("PrivateEncrypt: %v", err)
	}
	got, err := kr.PublicDecrypt("signer", sig)
	if err != nil {
		t.Fatalf("PublicDecrypt: %v", err)
	}
	if string(got) != string(digest) {
		t.Errorf("PublicDecrypt round trip = %q, want %q", got, digest)
	}
}

func TestPublicEncryptPrivateDecryptRoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateKeypair(dir, "receiver"); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	kr, err := NewKeyring(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	msg := []byte("a secret message")
	ct, err := kr.PublicEncrypt("receiver", msg)
	if err != nil {
		t.Fatalf("PublicEncrypt: %v", err)
	}
	got, err := kr.PrivateDecrypt("receiver", ct)
	if err != nil {
		t.Fatalf("PrivateDecrypt: %v", err)
	}
	if string(got) != string(msg) {
		t.Errorf("PrivateDecrypt round trip = %q, want %q", got, msg)
	}
}

func TestKeyringUnknownIDErrors(t *testing.T) {
	dir := t.TempDir()
	kr, err := NewKeyring(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if kr.HasPublic("nobody") {
		t.Fatal("expected HasPublic to be false for an empty keyring")
	}
	if _, err := kr.PrivateEncrypt("nobody", []byte("x")); err == nil {
		t.Fatal("expected PrivateEncrypt to fail for an unknown id")
	}
}

func TestKeyringReloadPicksUpNewKeys(t *testing.T) {
	dir := t.TempDir()
	kr, err := NewKeyring(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if kr.HasPublic("late") {
		t.Fatal("expected 'late' to be absent before it's generated")
	}

	if err := GenerateKeypair(dir, "late"); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := kr.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !kr.HasPublic("late") {
		t.Fatal("expected 'late' to be present after Reload")
	}
}
