// Package pkce genera pares verifier/challenge para el flow
// authorization-code con PKCE (RFC 7636). Solo soportamos method S256;
// "plain" queda afuera a propósito.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const verifierBytes = 32

// CreateVerifier genera un verifier aleatorio de alta entropía
// (base64url sin padding).
func CreateVerifier() (string, error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateChallenge devuelve base64url(SHA-256(verifier)) sin padding.
func CreateChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
