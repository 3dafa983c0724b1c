// Package secretbox cifra secretos en reposo (hoy: el secreto TOTP de MFA)
// usando NaCl secretbox (XSalsa20-Poly1305). La clave es explícita e
// inyectada: nada de singletons por env, así los tests construyen cajas
// aisladas.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeyLen es el largo requerido de la clave.
	KeyLen   = 32
	nonceLen = 24
	sep      = "|" // base64(nonce) | base64(ciphertext)
	envHint  = "genere una clave con: openssl rand -base64 32"
)

var (
	// ErrBadKey indica una clave de largo incorrecto.
	ErrBadKey = errors.New("secretbox: key must be 32 bytes (" + envHint + ")")
	// ErrDecrypt indica ciphertext corrupto o clave equivocada.
	ErrDecrypt = errors.New("secretbox: decrypt failed")
)

// Box cifra/descifra con una clave fija.
type Box struct {
	key [KeyLen]byte
}

// New crea un Box. La clave debe tener exactamente 32 bytes.
func New(key []byte) (*Box, error) {
	if len(key) != KeyLen {
		return nil, ErrBadKey
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// Encrypt devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	ct := secretbox.Seal(nil, []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(nonce[:]) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt revierte Encrypt. Cualquier alteración del ciphertext falla con
// ErrDecrypt (Poly1305 autentica).
func (b *Box) Decrypt(ciphertext string) (string, error) {
	i := indexSep(ciphertext)
	if i < 0 {
		return "", ErrDecrypt
	}
	nb, err := base64.StdEncoding.DecodeString(ciphertext[:i])
	if err != nil || len(nb) != nonceLen {
		return "", ErrDecrypt
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext[i+1:])
	if err != nil {
		return "", ErrDecrypt
	}
	var nonce [nonceLen]byte
	copy(nonce[:], nb)
	pt, ok := secretbox.Open(nil, ct, &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

func indexSep(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == sep[0] {
			return i
		}
	}
	return -1
}
