package session

// ───────────────────────────────────────────────────────────────
// Manager: exchange de bundle por sesión de aplicación, refresh
// con rotación estricta y logout.
// ───────────────────────────────────────────────────────────────

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/jwt"
	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

var (
	ErrStateNotFound    = errors.New("session: state not found or already exchanged")
	ErrIdentityMismatch = errors.New("session: bundle already bound to another user")
	ErrInvalidRefresh   = errors.New("session: refresh token invalid or revoked")
	ErrRefreshExpired   = errors.New("session: refresh token expired")
)

// DefaultRefreshTTL es la vida del refresh token de aplicación.
const DefaultRefreshTTL = 30 * 24 * time.Hour

// Session es el resultado de un exchange o refresh exitoso.
type Session struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Roles            []string
	MFAEnabled       bool
}

// Manager arma sesiones de aplicación sobre el Identity Store y el Issuer.
type Manager struct {
	Store      *store.Store
	Issuer     *jwt.Issuer
	Audit      *audit.Recorder
	RefreshTTL time.Duration
}

// New construye el Manager con el TTL de refresh por defecto.
func New(st *store.Store, iss *jwt.Issuer, rec *audit.Recorder) *Manager {
	return &Manager{Store: st, Issuer: iss, Audit: rec, RefreshTTL: DefaultRefreshTTL}
}

// Exchange consume el bundle transitorio keyed por state y emite la primera
// sesión. El bundle migra a storage permanente keyed por userId y la entrada
// por state se borra: un segundo exchange del mismo state falla.
func (m *Manager) Exchange(ctx context.Context, state, userID, email, name string) (*Session, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}
	// Identidad placeholder: sin claims upstream verificados, el userId
	// por defecto es el state.
	if userID == "" {
		userID = state
	}

	// Consumo atómico: load+bind-check+delete bajo el lock del registro.
	// De N exchanges concurrentes del mismo state gana exactamente uno.
	bundle, err := m.Store.ConsumeBundleForState(ctx, state, userID)
	if err != nil {
		switch {
		case store.IsNotFound(err):
			m.Audit.Event(ctx, "session_exchange", userID, map[string]any{"result": "rejected", "reason": "state_not_found"})
			return nil, ErrStateNotFound
		case errors.Is(err, store.ErrBundleBound):
			m.Audit.Event(ctx, "session_exchange", userID, map[string]any{"result": "rejected", "reason": "identity_mismatch"})
			return nil, ErrIdentityMismatch
		}
		return nil, fmt.Errorf("session: consume state: %w", err)
	}

	bundle.UserID = userID
	if err := m.Store.SaveBundleForUser(ctx, userID, bundle.Provider, bundle); err != nil {
		return nil, fmt.Errorf("session: migrate bundle: %w", err)
	}

	if _, err := m.Store.EnsureUser(ctx, userID, email, name); err != nil {
		return nil, fmt.Errorf("session: ensure user: %w", err)
	}
	if err := m.Store.MarkProviderConnected(ctx, userID, bundle.Provider); err != nil {
		return nil, fmt.Errorf("session: mark provider: %w", err)
	}

	sess, err := m.mint(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.Audit.Event(ctx, "session_exchange", userID, map[string]any{"provider": bundle.Provider})
	logger.From(ctx).Info("session exchanged",
		logger.Component("session"),
		logger.UserID(userID),
		logger.Provider(bundle.Provider),
	)
	return sess, nil
}

// Refresh rota el refresh token: el presentado queda revocado y se emite un
// sucesor junto con un access token nuevo. Un refresh ya revocado es señal
// de replay y se rechaza.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefresh
	}

	old, err := m.Store.GetRefresh(ctx, refreshToken)
	if err != nil {
		if store.IsNotFound(err) {
			m.Audit.Event(ctx, "session_refresh", "", map[string]any{"result": "rejected", "reason": "unknown_token"})
			return nil, ErrInvalidRefresh
		}
		return nil, fmt.Errorf("session: load refresh: %w", err)
	}
	userID := old.Subject

	token, jti, exp, err := m.Issuer.SignAccess(userID, 0)
	if err != nil {
		return nil, fmt.Errorf("session: sign access: %w", err)
	}

	next, err := m.Store.RotateRefresh(ctx, refreshToken, jti, m.RefreshTTL)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRefreshRevoked):
			logger.From(ctx).Warn("refresh replay detected",
				logger.Component("session"),
				logger.UserID(userID),
			)
			m.Audit.Event(ctx, "session_refresh", userID, map[string]any{"result": "rejected", "reason": "replay"})
			// Ambos sentinels viajan: el caller distingue replay de
			// token desconocido sin cambiar el contrato 401.
			return nil, errors.Join(ErrInvalidRefresh, store.ErrRefreshRevoked)
		case errors.Is(err, store.ErrRefreshExpired):
			m.Audit.Event(ctx, "session_refresh", userID, map[string]any{"result": "rejected", "reason": "expired"})
			return nil, ErrRefreshExpired
		case store.IsNotFound(err):
			return nil, ErrInvalidRefresh
		}
		return nil, fmt.Errorf("session: rotate refresh: %w", err)
	}

	roles, mfaEnabled, err := m.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.Audit.Event(ctx, "session_refresh", userID, nil)
	return &Session{
		UserID:           userID,
		AccessToken:      token,
		AccessExpiresAt:  exp,
		RefreshToken:     next.ID,
		RefreshExpiresAt: next.ExpiresAt,
		Roles:            roles,
		MFAEnabled:       mfaEnabled,
	}, nil
}

// Logout revoca el refresh token presentado. Idempotente: revocar un token
// ya revocado o inexistente no es error.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrInvalidRefresh
	}

	rec, err := m.Store.GetRefresh(ctx, refreshToken)
	if err != nil && !store.IsNotFound(err) {
		return fmt.Errorf("session: load refresh: %w", err)
	}
	if err := m.Store.RevokeRefresh(ctx, refreshToken); err != nil && !store.IsNotFound(err) {
		return fmt.Errorf("session: revoke refresh: %w", err)
	}

	userID := ""
	if rec != nil {
		userID = rec.Subject
	}
	m.Audit.Event(ctx, "session_logout", userID, nil)
	return nil
}

// mint emite access + refresh frescos para userID, con roles y estado MFA.
func (m *Manager) mint(ctx context.Context, userID string) (*Session, error) {
	token, jti, exp, err := m.Issuer.SignAccess(userID, 0)
	if err != nil {
		return nil, fmt.Errorf("session: sign access: %w", err)
	}
	refresh, err := m.Store.CreateRefresh(ctx, userID, jti, m.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("session: create refresh: %w", err)
	}
	roles, mfaEnabled, err := m.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Session{
		UserID:           userID,
		AccessToken:      token,
		AccessExpiresAt:  exp,
		RefreshToken:     refresh.ID,
		RefreshExpiresAt: refresh.ExpiresAt,
		Roles:            roles,
		MFAEnabled:       mfaEnabled,
	}, nil
}

// profile junta roles y flag MFA del usuario. Ausencia de registro MFA
// cuenta como MFA apagada.
func (m *Manager) profile(ctx context.Context, userID string) ([]string, bool, error) {
	roles, err := m.Store.GetRoles(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("session: load roles: %w", err)
	}
	rec, err := m.Store.GetMFA(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return roles, false, nil
		}
		return nil, false, fmt.Errorf("session: load mfa: %w", err)
	}
	return roles, rec.Enabled, nil
}
