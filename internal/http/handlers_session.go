package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/gatekeeper/internal/jwt"
	"github.com/dropDatabas3/gatekeeper/internal/session"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

// SessionController expone exchange, refresh, logout y me.
type SessionController struct {
	Manager *session.Manager
	Issuer  *jwt.Issuer
}

type exchangeRequest struct {
	State  string `json:"state"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	UserID           string    `json:"user_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
	Roles            []string  `json:"roles"`
	MFAEnabled       bool      `json:"mfa_enabled"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	return sessionResponse{
		UserID:           s.UserID,
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
		TokenType:        "Bearer",
		Roles:            roles,
		MFAEnabled:       s.MFAEnabled,
	}
}

// noStore marca respuestas que llevan tokens.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// Exchange maneja POST /v1/session/exchange
func (c *SessionController) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.State == "" {
		WriteError(w, ErrMissingFields.WithDetail("state es requerido"))
		return
	}

	sess, err := c.Manager.Exchange(r.Context(), req.State, req.UserID, req.Email, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrStateNotFound):
			WriteError(w, ErrStateNotFound)
		case errors.Is(err, session.ErrIdentityMismatch):
			WriteError(w, ErrForbidden.WithDetail("el state pertenece a otro usuario"))
		default:
			WriteError(w, ErrInternal.WithCause(err))
		}
		return
	}

	noStore(w)
	WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Refresh maneja POST /v1/session/refresh
func (c *SessionController) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, ErrMissingFields.WithDetail("refresh_token es requerido"))
		return
	}

	sess, err := c.Manager.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidRefresh):
			recordAuthFailure("refresh_invalid")
			if errors.Is(err, store.ErrRefreshRevoked) {
				RecordRefreshReplay()
			}
			WriteError(w, ErrInvalidRefresh)
		case errors.Is(err, session.ErrRefreshExpired):
			recordAuthFailure("refresh_invalid")
			WriteError(w, ErrInvalidRefresh.WithDetail("el refresh token expiró"))
		default:
			WriteError(w, ErrInternal.WithCause(err))
		}
		return
	}

	noStore(w)
	WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

// Logout maneja POST /v1/session/logout
func (c *SessionController) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, ErrMissingFields.WithDetail("refresh_token es requerido"))
		return
	}

	if err := c.Manager.Logout(r.Context(), req.RefreshToken); err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type meResponse struct {
	Sub        string   `json:"sub"`
	JTI        string   `json:"jti"`
	Iss        string   `json:"iss"`
	Aud        string   `json:"aud"`
	Roles      []string `json:"roles"`
	MFAEnabled bool     `json:"mfa_enabled"`
}

// Me maneja GET /v1/session/me (requiere RequireAuth).
func (c *SessionController) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	WriteJSON(w, http.StatusOK, meResponse{
		Sub:        id.Sub,
		JTI:        id.JTI,
		Iss:        c.Issuer.Iss,
		Aud:        c.Issuer.Aud,
		Roles:      roles,
		MFAEnabled: id.MFAEnabled,
	})
}
