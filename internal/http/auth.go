package http

// ───────────────────────────────────────────────────────────────
// Guard de autorización: bearer token + roles + MFA. Roles y flag
// MFA se leen frescos del store en cada request — una revocación
// de rol pega inmediato, sin esperar a que venza el access token.
// ───────────────────────────────────────────────────────────────

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/gatekeeper/internal/jwt"
	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

// Identity es el principal autenticado del request.
type Identity struct {
	Sub        string
	JTI        string
	Roles      []string
	MFAEnabled bool
}

type identityCtxKey struct{}

// IdentityFrom recupera la identidad del contexto. ok=false si el request
// no pasó por RequireAuth.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(*Identity)
	return id, ok
}

// bearerToken extrae el token del header Authorization, tolerante con el
// casing de "Bearer".
func bearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if ah == "" {
		return ""
	}
	if i := strings.IndexByte(ah, ' '); i > 0 && strings.EqualFold(ah[:i], "Bearer") {
		return strings.TrimSpace(ah[i+1:])
	}
	return ""
}

// Guard agrupa lo que necesitan los middlewares de autorización.
type Guard struct {
	Issuer *jwt.Issuer
	Store  *store.Store
}

// RequireAuth valida el bearer token y carga la identidad en el contexto.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			recordAuthFailure("token_missing")
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			WriteError(w, ErrTokenMissing)
			return
		}

		claims, err := g.Issuer.VerifyAccess(raw)
		if err != nil {
			recordAuthFailure("token_invalid")
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			WriteError(w, ErrTokenInvalid)
			return
		}

		roles, err := g.Store.GetRoles(r.Context(), claims.Subject)
		if err != nil {
			WriteError(w, ErrInternal.WithCause(err))
			return
		}
		mfaEnabled := false
		if rec, err := g.Store.GetMFA(r.Context(), claims.Subject); err == nil {
			mfaEnabled = rec.Enabled
		} else if !store.IsNotFound(err) {
			WriteError(w, ErrInternal.WithCause(err))
			return
		}

		id := &Identity{
			Sub:        claims.Subject,
			JTI:        claims.JTI,
			Roles:      roles,
			MFAEnabled: mfaEnabled,
		}
		ctx := context.WithValue(r.Context(), identityCtxKey{}, id)
		ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(id.Sub)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles exige al menos uno de los roles dados. Debe montarse después
// de RequireAuth.
func (g *Guard) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteError(w, ErrUnauthorized)
				return
			}
			if !hasAny(id.Roles, roles) {
				WriteError(w, ErrForbidden.WithDetail("rol insuficiente"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMFA exige que el usuario tenga el segundo factor habilitado.
func (g *Guard) RequireMFA(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			WriteError(w, ErrUnauthorized)
			return
		}
		if !id.MFAEnabled {
			WriteError(w, ErrMFARequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasAny(haystack []string, needles []string) bool {
	if len(haystack) == 0 || len(needles) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(haystack))
	for _, v := range haystack {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[strings.ToLower(strings.TrimSpace(n))]; ok {
			return true
		}
	}
	return false
}
