package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
	if len(key1) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(key1))
	}
}

func TestDeriveMasterKey_DifferentInputs(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveMasterKey(password, []byte("salt-1"))
	key2 := DeriveMasterKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestMakeVerifier(t *testing.T) {
	v := MakeVerifier([]byte("key"))
	// sha256("key")
	want := "2c70e12b7a0646f92279f427c7b38e7334d8e5389cff167a1dc30e73f826b683"
	if hex.EncodeToString(v) != want {
		t.Errorf("expected %s, got %x", want, v)
	}
}

func TestVerifiersEqual(t *testing.T) {
	a := MakeVerifier([]byte("k1"))
	b := MakeVerifier([]byte("k1"))
	c := MakeVerifier([]byte("k2"))

	if !VerifiersEqual(a, b) {
		t.Errorf("equal verifiers reported different")
	}
	if VerifiersEqual(a, c) {
		t.Errorf("different verifiers reported equal")
	}
	if VerifiersEqual(nil, nil) {
		t.Errorf("empty verifiers must never match")
	}
}

func TestNormalizePairingCode(t *testing.T) {
	cases := map[string]string{
		"abc234":    "ABC234",
		" ab-c 234": "ABC234",
		"ABC234":    "ABC234",
		"":          "",
	}
	for in, want := range cases {
		if got := NormalizePairingCode(in); got != want {
			t.Errorf("NormalizePairingCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashPairingCode(t *testing.T) {
	secret := []byte("server-secret")

	h1, err := HashPairingCode("abc-234", secret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := HashPairingCode("ABC234", secret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Errorf("normalized codes must hash equally: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}

	other, err := HashPairingCode("ABC234", []byte("another-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == h1 {
		t.Errorf("different secrets must produce different digests")
	}

	long := bytes.Repeat([]byte{1}, 100)
	if _, err := HashPairingCode("X", long); err != nil {
		t.Errorf("long secret must be truncated, got error %v", err)
	}
}
