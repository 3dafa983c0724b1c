// Package jwt emite y verifica los access tokens propios de la aplicación.
// Tokens stateless HS256 con secreto de proceso: la revocación es solo por
// expiración del TTL corto (trade-off documentado; no hay revocation list).
package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken cubre firma inválida, issuer/audience incorrecto y expiración.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims son los claims estándar que emitimos.
type AccessClaims struct {
	Subject   string
	JTI       string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer firma access tokens con un secreto compartido cargado al arranque.
// El secreto no rota en runtime.
type Issuer struct {
	Secret    []byte
	Iss       string
	Aud       string
	AccessTTL time.Duration
}

// NewIssuer crea un Issuer con TTL por defecto de 15m.
func NewIssuer(secret []byte, iss, aud string) *Issuer {
	return &Issuer{
		Secret:    secret,
		Iss:       iss,
		Aud:       aud,
		AccessTTL: 15 * time.Minute,
	}
}

// SignAccess emite un bearer token para sub. ttl opcional; si es 0 usa AccessTTL.
func (i *Issuer) SignAccess(sub string, ttl time.Duration) (token, jti string, exp time.Time, err error) {
	if ttl <= 0 {
		ttl = i.AccessTTL
	}
	now := time.Now().UTC()
	exp = now.Add(ttl)
	jti = uuid.NewString()

	claims := jwtv5.MapClaims{
		"sub": sub,
		"iss": i.Iss,
		"aud": i.Aud,
		"jti": jti,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	token, err = tk.SignedString(i.Secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, exp, nil
}

// VerifyAccess valida firma, método, issuer, audience y expiración.
// Cualquier falla colapsa en ErrInvalidToken; el detalle queda para logs.
func (i *Issuer) VerifyAccess(token string) (*AccessClaims, error) {
	tk, err := jwtv5.Parse(token,
		func(t *jwtv5.Token) (any, error) { return i.Secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithAudience(i.Aud),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tk.Valid {
		return nil, ErrInvalidToken
	}
	mc, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	out := &AccessClaims{
		Issuer:   i.Iss,
		Audience: i.Aud,
	}
	if s, _ := mc["sub"].(string); s != "" {
		out.Subject = s
	} else {
		return nil, ErrInvalidToken
	}
	out.JTI, _ = mc["jti"].(string)
	if v, ok := mc["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(v), 0).UTC()
	}
	if v, ok := mc["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(v), 0).UTC()
	}
	return out, nil
}
