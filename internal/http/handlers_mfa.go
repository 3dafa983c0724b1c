package http

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
	"github.com/dropDatabas3/gatekeeper/internal/security/totp"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

// MFAController maneja el ciclo de vida del segundo factor TOTP.
type MFAController struct {
	Store  *store.Store
	Audit  *audit.Recorder
	Issuer string // issuer del otpauth URI (nombre del servicio)
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

type mfaSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURI string `json:"otpauth_uri"`
}

// Setup maneja POST /v1/mfa/setup. Genera (o regenera) el secreto en estado
// deshabilitado; queda pendiente hasta que un Verify lo confirme.
func (c *MFAController) Setup(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}
	if err := c.Store.UpsertMFA(r.Context(), id.Sub, secret, false); err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	c.Audit.Event(r.Context(), "mfa_setup", id.Sub, nil)

	// La respuesta lleva el secreto: nunca debe quedar en caches.
	noStore(w)
	WriteJSON(w, http.StatusOK, mfaSetupResponse{
		Secret:     secret,
		OTPAuthURI: totp.OTPAuthURL(c.Issuer, id.Sub, secret),
	})
}

// Verify maneja POST /v1/mfa/verify. Un código válido dentro de la ventana
// habilita el factor.
func (c *MFAController) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	var req mfaCodeRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		WriteError(w, ErrMissingFields.WithDetail("code es requerido"))
		return
	}

	rec, err := c.Store.GetMFA(r.Context(), id.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			WriteError(w, ErrBadRequest.WithDetail("mfa no inicializada; llame a setup primero"))
			return
		}
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	if !totp.Verify(rec.Secret, req.Code, time.Now()) {
		recordAuthFailure("mfa_code")
		logger.From(r.Context()).Warn("mfa verify rejected", logger.Op("mfa.verify"))
		c.Audit.Event(r.Context(), "mfa_verify", id.Sub, map[string]any{"result": "rejected"})
		WriteError(w, ErrInvalidMFACode)
		return
	}

	if err := c.Store.EnableMFA(r.Context(), id.Sub); err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	c.Audit.Event(r.Context(), "mfa_verify", id.Sub, nil)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// Disable maneja POST /v1/mfa/disable. Si el factor está habilitado exige un
// código vigente; si nunca se configuró o ya está apagado, es idempotente.
func (c *MFAController) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	var req mfaCodeRequest
	if !ReadJSON(w, r, &req) {
		return
	}

	rec, err := c.Store.GetMFA(r.Context(), id.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
			return
		}
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	if rec.Enabled {
		if req.Code == "" {
			WriteError(w, ErrMissingFields.WithDetail("code es requerido para deshabilitar"))
			return
		}
		if !totp.Verify(rec.Secret, req.Code, time.Now()) {
			recordAuthFailure("mfa_code")
			c.Audit.Event(r.Context(), "mfa_disable", id.Sub, map[string]any{"result": "rejected"})
			WriteError(w, ErrInvalidMFACode)
			return
		}
	}

	if err := c.Store.DisableMFA(r.Context(), id.Sub); err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	c.Audit.Event(r.Context(), "mfa_disable", id.Sub, nil)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}
