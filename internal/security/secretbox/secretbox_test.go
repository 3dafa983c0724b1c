package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(fill byte) []byte {
	k := make([]byte, KeyLen)
	for i := range k {
		k[i] = fill + byte(i)
	}
	return k
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	box, err := New(testKey(1))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	msg := "hola mundo ✓ — secreto"
	ct, err := box.Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	pt, err := box.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()

	box, err := New(testKey(100))
	if err != nil {
		t.Fatal(err)
	}
	ct, err := box.Encrypt("top secret")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.SplitN(ct, "|", 2)
	if len(parts) != 2 {
		t.Fatalf("formato inesperado: %q", ct)
	}
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	bs[0] ^= 0x01 // flip
	corrupted := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	if _, err := box.Decrypt(corrupted); err == nil {
		t.Fatalf("expected auth error, got nil")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	t.Parallel()

	a, _ := New(testKey(1))
	b, _ := New(testKey(2))
	ct, err := a.Encrypt("cross-key")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(ct); err == nil {
		t.Fatalf("Decrypt con otra clave no falló")
	}
}

func TestNew_BadKeyLen(t *testing.T) {
	t.Parallel()

	if _, err := New(make([]byte, 16)); err == nil {
		t.Fatalf("New aceptó clave corta")
	}
}
