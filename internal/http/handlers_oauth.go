package http

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/gatekeeper/internal/oauth"
	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
)

// OAuthController maneja el arranque y el callback del handshake.
type OAuthController struct {
	Orchestrator *oauth.Orchestrator
}

type oauthStartResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type oauthCallbackResponse struct {
	State     string `json:"state"`
	Provider  string `json:"provider"`
	ExpiresIn int    `json:"expires_in"`
	TokenType string `json:"token_type"`
	Scope     string `json:"scope,omitempty"`
}

// Start maneja GET /v1/oauth/start?provider=
func (c *OAuthController) Start(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		WriteError(w, ErrMissingFields.WithDetail("provider es requerido"))
		return
	}

	res, err := c.Orchestrator.Start(provider)
	if err != nil {
		if errors.Is(err, oauth.ErrUnsupportedProvider) {
			WriteError(w, ErrUnsupportedProvider)
			return
		}
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	WriteJSON(w, http.StatusOK, oauthStartResponse{URL: res.URL, State: res.State})
}

// Callback maneja GET /v1/oauth/callback?code=&state=&provider=
func (c *OAuthController) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := q.Get("provider")
	code := q.Get("code")
	state := q.Get("state")

	res, err := c.Orchestrator.HandleCallback(r.Context(), provider, code, state)
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrMissingParam):
			WriteError(w, ErrMissingFields.WithDetail("code y state son requeridos"))
		case errors.Is(err, oauth.ErrUnsupportedProvider):
			WriteError(w, ErrUnsupportedProvider)
		case errors.Is(err, oauth.ErrInvalidState),
			errors.Is(err, oauth.ErrVerifierMissing),
			errors.Is(err, oauth.ErrProviderMismatch):
			WriteError(w, ErrInvalidState)
		case errors.Is(err, oauth.ErrUpstreamExchange):
			// El detalle del upstream ya quedó en el log del orquestador.
			WriteError(w, ErrUpstreamExchange)
		default:
			logger.From(r.Context()).Error("oauth callback failed",
				logger.Op("oauth.callback"),
				logger.Err(err),
			)
			WriteError(w, ErrInternal.WithCause(err))
		}
		return
	}

	WriteJSON(w, http.StatusOK, oauthCallbackResponse{
		State:     res.State,
		Provider:  res.Provider,
		ExpiresIn: res.ExpiresIn,
		TokenType: res.TokenType,
		Scope:     res.Scope,
	})
}
