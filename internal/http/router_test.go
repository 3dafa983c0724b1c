package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/jwt"
	"github.com/dropDatabas3/gatekeeper/internal/kv"
	"github.com/dropDatabas3/gatekeeper/internal/rate"
	"github.com/dropDatabas3/gatekeeper/internal/security/secretbox"
	"github.com/dropDatabas3/gatekeeper/internal/security/totp"
	"github.com/dropDatabas3/gatekeeper/internal/session"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

type testEnv struct {
	router http.Handler
	store  *store.Store
	issuer *jwt.Issuer
	mgr    *session.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	box, err := secretbox.New(make([]byte, secretbox.KeyLen))
	require.NoError(t, err)
	st := store.New(kv.NewMemory(), box)
	iss := jwt.NewIssuer([]byte("jwt-secret-for-tests"), "gatekeeper", "app")
	rec := audit.New(st)
	mgr := session.New(st, iss, rec)

	router := NewRouter(RouterDeps{
		Guard:   &Guard{Issuer: iss, Store: st},
		Session: &SessionController{Manager: mgr, Issuer: iss},
		MFA:     &MFAController{Store: st, Audit: rec, Issuer: "gatekeeper"},
		Roles:   &RolesController{Store: st, Audit: rec},
		OAuth:   &OAuthController{},
	})
	return &testEnv{router: router, store: st, issuer: iss, mgr: mgr}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedBundle(t *testing.T, state string) {
	t.Helper()
	err := e.store.SaveBundleForState(context.Background(), state, &store.ProviderTokenBundle{
		Provider:    "google",
		AccessToken: "upstream-at",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (e *testEnv) tokenFor(t *testing.T, sub string) string {
	t.Helper()
	tok, _, _, err := e.issuer.SignAccess(sub, 0)
	require.NoError(t, err)
	return tok
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNotFoundIsJSON(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/no-such-route", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeBody[map[string]any](t, w)
	require.Equal(t, "NOT_FOUND", resp["code"])
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.seedBundle(t, "state-http-1")

	// exchange
	w := e.do(t, http.MethodPost, "/v1/session/exchange", "", map[string]any{
		"state":   "state-http-1",
		"user_id": "user-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	sess := decodeBody[sessionResponse](t, w)
	require.Equal(t, "user-1", sess.UserID)
	require.Equal(t, "Bearer", sess.TokenType)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEmpty(t, sess.RefreshToken)

	// el mismo state no se puede intercambiar dos veces
	w = e.do(t, http.MethodPost, "/v1/session/exchange", "", map[string]any{
		"state": "state-http-1",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	// me con el access token
	w = e.do(t, http.MethodGet, "/v1/session/me", sess.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decodeBody[meResponse](t, w)
	require.Equal(t, "user-1", me.Sub)
	require.Equal(t, "gatekeeper", me.Iss)
	require.Equal(t, "app", me.Aud)

	// refresh rota
	w = e.do(t, http.MethodPost, "/v1/session/refresh", "", map[string]any{
		"refresh_token": sess.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code)
	next := decodeBody[sessionResponse](t, w)
	require.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	// replay del refresh viejo → 401
	w = e.do(t, http.MethodPost, "/v1/session/refresh", "", map[string]any{
		"refresh_token": sess.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// logout revoca el vigente
	w = e.do(t, http.MethodPost, "/v1/session/logout", "", map[string]any{
		"refresh_token": next.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[map[string]string](t, w)
	require.Equal(t, "revoked", status["status"])

	w = e.do(t, http.MethodPost, "/v1/session/refresh", "", map[string]any{
		"refresh_token": next.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuardRejectsBadTokens(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/v1/session/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeBody[map[string]any](t, w)
	require.Equal(t, "TOKEN_MISSING", resp["code"])

	w = e.do(t, http.MethodGet, "/v1/session/me", "no-es-un-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp = decodeBody[map[string]any](t, w)
	require.Equal(t, "TOKEN_INVALID", resp["code"])

	// Token firmado con otro secreto.
	other := jwt.NewIssuer([]byte("otro-secreto"), "gatekeeper", "app")
	forged, _, _, err := other.SignAccess("user-x", 0)
	require.NoError(t, err)
	w = e.do(t, http.MethodGet, "/v1/session/me", forged, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRolesAdminGate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.store.SetRoles(ctx, "admin-1", []string{"admin"})
	require.NoError(t, err)
	adminTok := e.tokenFor(t, "admin-1")
	plainTok := e.tokenFor(t, "user-2")

	// Sin rol admin → 403.
	w := e.do(t, http.MethodPost, "/v1/roles/assign", plainTok, map[string]any{
		"user_id": "user-3",
		"roles":   []string{"editor"},
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	// Admin asigna.
	w = e.do(t, http.MethodPost, "/v1/roles/assign", adminTok, map[string]any{
		"user_id": "user-3",
		"roles":   []string{"editor", "editor", "viewer"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[rolesResponse](t, w)
	require.ElementsMatch(t, []string{"editor", "viewer"}, resp.Roles)

	// user-3 consulta sus propios roles.
	tok3 := e.tokenFor(t, "user-3")
	w = e.do(t, http.MethodGet, "/v1/roles?userId=user-3", tok3, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// pero no los de otro.
	w = e.do(t, http.MethodGet, "/v1/roles?userId=admin-1", tok3, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// admin sí.
	w = e.do(t, http.MethodGet, "/v1/roles?userId=user-3", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMFALifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	tok := e.tokenFor(t, "user-mfa")

	// setup entrega secreto + otpauth URI, no cacheable.
	w := e.do(t, http.MethodPost, "/v1/mfa/setup", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	setup := decodeBody[mfaSetupResponse](t, w)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.OTPAuthURI, "otpauth://totp/")

	// código basura → 400 y sigue deshabilitada
	w = e.do(t, http.MethodPost, "/v1/mfa/verify", tok, map[string]string{"code": "000000"})
	if w.Code == http.StatusOK {
		t.Fatal("garbage code must not enable mfa")
	}

	// código real habilita
	code, err := totp.Code(setup.Secret, totp.CounterAt(time.Now()))
	require.NoError(t, err)
	w = e.do(t, http.MethodPost, "/v1/mfa/verify", tok, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[map[string]string](t, w)
	require.Equal(t, "enabled", status["status"])

	// disable sin código estando habilitada → 400
	w = e.do(t, http.MethodPost, "/v1/mfa/disable", tok, map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// disable con código vigente
	code, err = totp.Code(setup.Secret, totp.CounterAt(time.Now()))
	require.NoError(t, err)
	w = e.do(t, http.MethodPost, "/v1/mfa/disable", tok, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, w.Code)
	status = decodeBody[map[string]string](t, w)
	require.Equal(t, "disabled", status["status"])

	// ya deshabilitada: idempotente sin código
	w = e.do(t, http.MethodPost, "/v1/mfa/disable", tok, map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestVerifyWithoutSetup(t *testing.T) {
	e := newTestEnv(t)
	tok := e.tokenFor(t, "user-sin-mfa")

	w := e.do(t, http.MethodPost, "/v1/mfa/verify", tok, map[string]string{"code": "123456"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireMFAGate(t *testing.T) {
	e := newTestEnv(t)
	guard := &Guard{Issuer: e.issuer, Store: e.store}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := guard.RequireAuth(guard.RequireMFA(ok))

	tok := e.tokenFor(t, "user-mfa-gate")

	// sin MFA habilitado: 401 MFA_REQUIRED
	req := httptest.NewRequest(http.MethodGet, "/protegido", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeBody[map[string]any](t, w)
	require.Equal(t, "MFA_REQUIRED", resp["code"])

	// con MFA habilitado pasa
	require.NoError(t, e.store.UpsertMFA(context.Background(), "user-mfa-gate", "secreto", true))
	req = httptest.NewRequest(http.MethodGet, "/protegido", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimitRejectsOverflow(t *testing.T) {
	e := newTestEnv(t)
	// Router propio con límite 2/min en exchange.
	box, err := secretbox.New(make([]byte, secretbox.KeyLen))
	require.NoError(t, err)
	st := store.New(kv.NewMemory(), box)
	iss := jwt.NewIssuer([]byte("s"), "gatekeeper", "app")
	rec := audit.New(st)
	router := NewRouter(RouterDeps{
		Guard:   &Guard{Issuer: iss, Store: st},
		Session: &SessionController{Manager: session.New(st, iss, rec), Issuer: iss},
		MFA:     &MFAController{Store: st, Audit: rec, Issuer: "gatekeeper"},
		Roles:   &RolesController{Store: st, Audit: rec},
		OAuth:   &OAuthController{},
		Limits: RouteLimiters{
			Exchange: rate.NewMemoryLimiter(2, time.Minute),
		},
	})
	e.router = router

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/v1/session/exchange", "", map[string]string{"state": "nope"})
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
	w := e.do(t, http.MethodPost, "/v1/session/exchange", "", map[string]string{"state": "nope"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeBody[map[string]any](t, w)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", resp["code"])
}

func TestExchangeValidation(t *testing.T) {
	e := newTestEnv(t)

	// sin Content-Type JSON
	req := httptest.NewRequest(http.MethodPost, "/v1/session/exchange", bytes.NewBufferString(`{"state":"x"}`))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// sin state
	w2 := e.do(t, http.MethodPost, "/v1/session/exchange", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestOAuthStartValidation(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/v1/oauth/start", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
