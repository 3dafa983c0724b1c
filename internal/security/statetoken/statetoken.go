// Package statetoken emite y verifica los tokens de estado anti-CSRF del
// handshake OAuth. Formato: nonce.firma, con firma = HMAC-SHA256(secret, nonce).
//
// Este paquete NO persiste nada: la prevención de replay es responsabilidad
// del caller (el orquestador consume el nonce de su store one-shot).
package statetoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const nonceBytes = 16 // 128 bits

// Codec firma y verifica state tokens con un secreto de servidor.
type Codec struct {
	secret []byte
}

// New crea un Codec con el secreto dado.
func New(secret []byte) *Codec {
	return &Codec{secret: secret}
}

func (c *Codec) sign(nonce string) string {
	m := hmac.New(sha256.New, c.secret)
	_, _ = m.Write([]byte(nonce))
	return hex.EncodeToString(m.Sum(nil))
}

// Create genera un state nuevo: hex(nonce aleatorio) + "." + hex(hmac).
func (c *Codec) Create() (string, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(raw)
	return nonce + "." + c.sign(nonce), nil
}

// Verify recalcula la firma sobre el nonce extraído y compara en tiempo
// constante. Input malformado (sin separador) falla cerrado.
func (c *Codec) Verify(state string) bool {
	nonce, sig, ok := strings.Cut(state, ".")
	if !ok || nonce == "" || sig == "" {
		return false
	}
	expected := c.sign(nonce)
	return hmac.Equal([]byte(expected), []byte(sig))
}
