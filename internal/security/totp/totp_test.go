package totp

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"
)

func TestGenerateSecret_HexLen(t *testing.T) {
	t.Parallel()

	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret err: %v", err)
	}
	if len(s) != 40 { // 20 bytes hex
		t.Fatalf("largo = %d, want 40", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("secreto no es hex: %v", err)
	}
}

func TestVerify_CurrentWindow(t *testing.T) {
	t.Parallel()

	s, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	code, err := Code(s, CounterAt(now))
	if err != nil {
		t.Fatal(err)
	}
	if !Verify(s, code, now) {
		t.Fatalf("código de la ventana actual no verificó")
	}
	// con espacios alrededor también debería pasar
	if !Verify(s, "  "+code+" ", now) {
		t.Fatalf("código con espacios no verificó")
	}
}

func TestVerify_AdjacentWindows(t *testing.T) {
	t.Parallel()

	s, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	prev, _ := Code(s, CounterAt(now)-1)
	next, _ := Code(s, CounterAt(now)+1)
	if !Verify(s, prev, now) {
		t.Fatalf("código de ventana -1 rechazado (skew tolerado)")
	}
	if !Verify(s, next, now) {
		t.Fatalf("código de ventana +1 rechazado (skew tolerado)")
	}
}

func TestVerify_FarWindowRejected(t *testing.T) {
	t.Parallel()

	s, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	far, _ := Code(s, CounterAt(now)-2)
	near, _ := Code(s, CounterAt(now))
	if far != near && Verify(s, far, now) {
		t.Fatalf("código a 2 pasos fue aceptado")
	}
}

func TestVerify_GarbageInput(t *testing.T) {
	t.Parallel()

	s, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for _, code := range []string{"", "12345", "1234567", "abcdef", "000000"} {
		real, _ := Code(s, CounterAt(now))
		if code == real {
			continue // colisión improbable pero posible
		}
		if Verify(s, code, now) {
			t.Fatalf("Verify aceptó %q", code)
		}
	}
	if Verify("zz-no-hex", "123456", now) {
		t.Fatalf("Verify aceptó secreto no-hex")
	}
}

func TestOTPAuthURL_Shape(t *testing.T) {
	t.Parallel()

	u := OTPAuthURL("Gatekeeper", "user@example.com", "abc123")
	if !strings.HasPrefix(u, "otpauth://totp/") {
		t.Fatalf("scheme inesperado: %q", u)
	}
	for _, frag := range []string{"secret=abc123", "issuer=Gatekeeper", "digits=6", "period=30"} {
		if !strings.Contains(u, frag) {
			t.Fatalf("falta %q en %q", frag, u)
		}
	}
}
