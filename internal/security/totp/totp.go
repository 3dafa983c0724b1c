// Package totp implementa códigos one-time estilo RFC 6238 (HMAC-SHA1,
// período de 30s, 6 dígitos, dynamic truncation) para el segundo factor.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// Period es el paso de tiempo RFC 6238.
	Period = 30 * time.Second

	secretBytes = 20 // 160 bits
	digits      = 6
	// windowSteps: tolerancia ±1 paso (30s de skew). Trade-off deliberado
	// usabilidad/seguridad.
	windowSteps = 1
)

// GenerateSecret retorna 20 bytes aleatorios hex-encoded.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// OTPAuthURL construye la URI otpauth:// para provisioning (QR).
func OTPAuthURL(issuer, accountName, secret string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Verify chequea el código contra las ventanas {-1, 0, +1} relativas a t.
// El secreto llega hex-encoded tal como lo produjo GenerateSecret.
func Verify(secretHex, code string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != digits {
		return false
	}
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return false
	}
	counter := t.Unix() / int64(Period/time.Second)
	for c := counter - windowSteps; c <= counter+windowSteps; c++ {
		if hotp(raw, c) == code {
			return true
		}
	}
	return false
}

// Code calcula el código HOTP para un counter dado. Exportado para que los
// clientes de prueba puedan computar el código esperado de una ventana.
func Code(secretHex string, counter int64) (string, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", err
	}
	return hotp(raw, counter), nil
}

// CounterAt devuelve el counter RFC 6238 para un instante.
func CounterAt(t time.Time) int64 {
	return t.Unix() / int64(Period/time.Second)
}

func hotp(secretRaw []byte, counter int64) string {
	// HOTP(K, C) con HMAC-SHA1 (RFC 4226 / 6238)
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secretRaw)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	return fmt.Sprintf("%06d", bin%1000000)
}
