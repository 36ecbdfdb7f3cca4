package crypto

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"
)

// Well-known test key (do not use with real funds).
const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	msg := []byte(`{"op":"bet","side":1}`)
	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if len(sig) != 2+130 {
		t.Fatalf("signature length = %d, want 132", len(sig))
	}

	addr, err := Recover(msg, sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr.Hex(), s.Address().Hex())
	}
}

func TestRecover_TamperedMessage(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	sig, err := s.SignMessage([]byte("settle"))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	addr, err := Recover([]byte("cancel"), sig)
	if err == nil && addr == s.Address() {
		t.Fatal("tampered message must not recover the original signer")
	}
}

func TestRecover_Malformed(t *testing.T) {
	for _, sig := range []string{"", "0x1234", "not-hex"} {
		if _, err := Recover([]byte("m"), sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Recover(%q) error = %v, want ErrInvalidSignature", sig, err)
		}
	}
}

// highS returns the other valid encoding of sig: s replaced by N-s and the
// recovery id flipped.
func highS(t *testing.T, sig string) string {
	t.Helper()
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sv := new(big.Int).SetBytes(b[32:64])
	sv.Sub(curveN, sv)
	sv.FillBytes(b[32:64])
	b[64] = (b[64]-27)^1 + 27
	return "0x" + hex.EncodeToString(b)
}

func TestNormalizeSignature_Encodings(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	msg := []byte("POST /api/pools")
	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	canonical, err := NormalizeSignature(sig)
	if err != nil {
		t.Fatalf("NormalizeSignature: %v", err)
	}
	if canonical[64] > 1 {
		t.Fatalf("v = %d, want 0 or 1", canonical[64])
	}

	twin := highS(t, sig)
	variants := map[string]string{
		"no prefix":  strings.TrimPrefix(sig, "0x"),
		"upper case": "0x" + strings.ToUpper(sig[2:]),
		"high s":     twin,
	}
	want, _ := InvocationHash(msg, sig)
	for name, v := range variants {
		t.Run(name, func(t *testing.T) {
			got, err := NormalizeSignature(v)
			if err != nil {
				t.Fatalf("NormalizeSignature: %v", err)
			}
			if hex.EncodeToString(got) != hex.EncodeToString(canonical) {
				t.Errorf("normalized = %x, want %x", got, canonical)
			}
			addr, err := Recover(msg, v)
			if err != nil || addr != s.Address() {
				t.Errorf("Recover = %s, %v; want %s", addr.Hex(), err, s.Address().Hex())
			}
			if h, _ := InvocationHash(msg, v); h != want {
				t.Errorf("invocation hash differs from the canonical encoding")
			}
		})
	}
}

func TestNormalizeSignature_BadRecoveryID(t *testing.T) {
	sig := "0x" + strings.Repeat("11", 64) + "05"
	if _, err := NormalizeSignature(sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestInvocationHash_DependsOnSignature(t *testing.T) {
	a, _ := GenerateSigner()
	b, _ := GenerateSigner()
	msg := []byte("init")
	sigA, _ := a.SignMessage(msg)
	sigB, _ := b.SignMessage(msg)

	h1, err := InvocationHash(msg, sigA)
	if err != nil {
		t.Fatalf("InvocationHash: %v", err)
	}
	h2, err := InvocationHash(msg, sigB)
	if err != nil {
		t.Fatalf("InvocationHash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("different signatures must yield different invocation hashes")
	}
	if _, err := InvocationHash(msg, "0xaa"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("short signature err = %v, want ErrInvalidSignature", err)
	}
}

func TestNewSigner_InvalidKey(t *testing.T) {
	if _, err := NewSigner("zz"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}
