package oauth

// ───────────────────────────────────────────────────────────────
// Orchestrator: arranque del handshake PKCE y resolución del
// callback contra el token endpoint del provider.
// ───────────────────────────────────────────────────────────────

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
	"github.com/dropDatabas3/gatekeeper/internal/security/pkce"
	"github.com/dropDatabas3/gatekeeper/internal/security/statetoken"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

var (
	ErrUnsupportedProvider = errors.New("oauth: unsupported provider")
	ErrMissingParam        = errors.New("oauth: missing code or state")
	ErrInvalidState        = errors.New("oauth: invalid state token")
	ErrVerifierMissing     = errors.New("oauth: verifier not found or already used")
	ErrProviderMismatch    = errors.New("oauth: provider does not match handshake")
	ErrUpstreamExchange    = errors.New("oauth: upstream code exchange failed")
)

// UpstreamError conserva status y cuerpo del token endpoint para diagnóstico
// server-side. Nunca se expone al cliente.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("oauth: upstream exchange failed: status=%d body=%s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamExchange }

// handshake es lo que recordamos entre /oauth/start y /oauth/callback.
type handshake struct {
	Provider string
	Verifier string
}

const (
	verifierTTL     = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
	exchangeTimeout = 10 * time.Second
)

// StartResult es el producto de Start: URL de autorización y state anti-CSRF.
type StartResult struct {
	URL   string
	State string
}

// CallbackResult resume el intercambio exitoso (sin tokens upstream: esos
// quedan en el store, keyed por state, hasta el exchange de sesión).
type CallbackResult struct {
	State     string
	Provider  string
	ExpiresIn int
	TokenType string
	Scope     string
}

// Orchestrator coordina el flujo authorization-code + PKCE.
type Orchestrator struct {
	providers map[string]Provider
	states    *statetoken.Codec
	verifiers *gocache.Cache
	store     *store.Store
	audit     *audit.Recorder
	http      *http.Client
}

// New construye el orquestador con sus dependencias explícitas.
func New(providers map[string]Provider, states *statetoken.Codec, st *store.Store, rec *audit.Recorder) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		states:    states,
		verifiers: gocache.New(verifierTTL, cleanupInterval),
		store:     st,
		audit:     rec,
		http:      &http.Client{Timeout: exchangeTimeout},
	}
}

// Start inicia el handshake: mint de state firmado, par PKCE, y construcción
// del auth URL con code_challenge S256. El verifier queda cacheado keyed por
// state y es de un solo uso.
func (o *Orchestrator) Start(provider string) (*StartResult, error) {
	p, ok := o.providers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}

	state, err := o.states.Create()
	if err != nil {
		return nil, fmt.Errorf("oauth: mint state: %w", err)
	}
	verifier, err := pkce.CreateVerifier()
	if err != nil {
		return nil, fmt.Errorf("oauth: mint verifier: %w", err)
	}
	challenge := pkce.CreateChallenge(verifier)

	o.verifiers.Set(state, handshake{Provider: provider, Verifier: verifier}, gocache.DefaultExpiration)

	q := url.Values{}
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(p.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	for k, vs := range p.ExtraAuthParams {
		for _, v := range vs {
			q.Set(k, v)
		}
	}

	return &StartResult{URL: p.AuthBaseURL + "?" + q.Encode(), State: state}, nil
}

// HandleCallback valida code+state, consume el verifier (un solo uso: se
// borra del cache ANTES de llamar upstream), intercambia el code por tokens
// y persiste el bundle keyed por state para el exchange posterior.
func (o *Orchestrator) HandleCallback(ctx context.Context, provider, code, state string) (*CallbackResult, error) {
	log := logger.From(ctx)

	if code == "" || state == "" {
		return nil, ErrMissingParam
	}
	p, ok := o.providers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	if !o.states.Verify(state) {
		o.auditReject(ctx, provider, "invalid_state")
		return nil, ErrInvalidState
	}

	raw, found := o.verifiers.Get(state)
	if !found {
		o.auditReject(ctx, provider, "verifier_missing")
		return nil, ErrVerifierMissing
	}
	// Un solo uso: el replay del mismo state no debe llegar al upstream.
	o.verifiers.Delete(state)
	hs, ok := raw.(handshake)
	if !ok {
		return nil, ErrVerifierMissing
	}
	if hs.Provider != provider {
		o.auditReject(ctx, provider, "provider_mismatch")
		return nil, ErrProviderMismatch
	}

	tok, err := o.exchangeCode(ctx, p, code, hs.Verifier)
	if err != nil {
		log.Warn("oauth code exchange failed",
			logger.Component("oauth"),
			logger.Provider(provider),
			logger.Err(err),
		)
		o.auditReject(ctx, provider, "upstream_exchange")
		return nil, err
	}

	bundle := &store.ProviderTokenBundle{
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		TokenType:    tok.TokenType,
		Scope:        tok.Scope,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.store.SaveBundleForState(ctx, state, bundle); err != nil {
		return nil, fmt.Errorf("oauth: persist bundle: %w", err)
	}

	// Identidad placeholder: sin verificación de id_token, el userId es el
	// state hasta que el exchange lo fije.
	if _, err := o.store.EnsureUser(ctx, state, "", ""); err != nil {
		return nil, fmt.Errorf("oauth: ensure user: %w", err)
	}
	if err := o.store.MarkProviderConnected(ctx, state, provider); err != nil {
		log.Warn("mark provider connected failed",
			logger.Component("oauth"),
			logger.Provider(provider),
			logger.Err(err),
		)
	}

	o.audit.Event(ctx, "oauth_callback", state, map[string]any{"provider": provider})
	log.Info("oauth callback resolved",
		logger.Component("oauth"),
		logger.Provider(provider),
		zap.Int("expires_in", tok.ExpiresIn),
	)

	return &CallbackResult{
		State:     state,
		Provider:  provider,
		ExpiresIn: tok.ExpiresIn,
		TokenType: tok.TokenType,
		Scope:     tok.Scope,
	}, nil
}

// auditReject deja constancia de un callback rechazado. El sujeto todavía no
// se conoce en este punto.
func (o *Orchestrator) auditReject(ctx context.Context, provider, reason string) {
	o.audit.Event(ctx, "oauth_callback", "", map[string]any{
		"provider": provider,
		"result":   "rejected",
		"reason":   reason,
	})
}

// exchangeCode hace el POST form-encoded al token endpoint del provider.
func (o *Orchestrator) exchangeCode(ctx context.Context, p Provider, code, verifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.RedirectURI)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("oauth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oauth: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("oauth: decode token response: %w", err)
	}
	return &tok, nil
}
