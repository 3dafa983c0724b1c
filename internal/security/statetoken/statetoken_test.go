package statetoken

import (
	"strings"
	"testing"
)

func TestCreateVerify_RoundTrip(t *testing.T) {
	t.Parallel()
	c := New([]byte("test-secret"))

	state, err := c.Create()
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if !strings.Contains(state, ".") {
		t.Fatalf("state sin separador: %q", state)
	}
	if !c.Verify(state) {
		t.Fatalf("Verify(false) para state recién creado")
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	t.Parallel()
	c := New([]byte("test-secret"))

	state, err := c.Create()
	if err != nil {
		t.Fatal(err)
	}
	nonce, sig, _ := strings.Cut(state, ".")

	// flip de un caracter de la firma
	b := []byte(sig)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	if c.Verify(nonce + "." + string(b)) {
		t.Fatalf("Verify aceptó firma alterada")
	}
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()
	c := New([]byte("test-secret"))

	for _, in := range []string{"", "sinpunto", ".sig", "nonce.", "."} {
		if c.Verify(in) {
			t.Fatalf("Verify aceptó input malformado %q", in)
		}
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()
	a := New([]byte("secret-a"))
	b := New([]byte("secret-b"))

	state, err := a.Create()
	if err != nil {
		t.Fatal(err)
	}
	if b.Verify(state) {
		t.Fatalf("Verify aceptó state firmado con otro secreto")
	}
}
