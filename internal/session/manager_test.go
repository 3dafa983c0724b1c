package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/jwt"
	"github.com/dropDatabas3/gatekeeper/internal/kv"
	"github.com/dropDatabas3/gatekeeper/internal/security/secretbox"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	box, err := secretbox.New(make([]byte, secretbox.KeyLen))
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}
	st := store.New(kv.NewMemory(), box)
	iss := jwt.NewIssuer([]byte("jwt-secret-for-tests"), "gatekeeper", "app")
	return New(st, iss, audit.New(st)), st
}

func seedBundle(t *testing.T, st *store.Store, state string) {
	t.Helper()
	err := st.SaveBundleForState(context.Background(), state, &store.ProviderTokenBundle{
		Provider:     "google",
		AccessToken:  "upstream-at",
		RefreshToken: "upstream-rt",
		ExpiresIn:    3600,
		TokenType:    "Bearer",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
}

func TestExchangeMintsSession(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedBundle(t, st, "state-1")

	sess, err := m.Exchange(ctx, "state-1", "", "", "")
	require.NoError(t, err)

	// Sin userId explícito, el sujeto por defecto es el state.
	require.Equal(t, "state-1", sess.UserID)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEmpty(t, sess.RefreshToken)
	require.True(t, sess.AccessExpiresAt.After(time.Now()))
	require.True(t, sess.RefreshExpiresAt.After(sess.AccessExpiresAt))
	require.False(t, sess.MFAEnabled)
	require.Empty(t, sess.Roles)

	// El access token debe verificar contra el issuer.
	claims, err := m.Issuer.VerifyAccess(sess.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "state-1", claims.Subject)

	// El bundle migró a storage por usuario.
	b, err := st.GetBundleForUser(ctx, "state-1", "google")
	require.NoError(t, err)
	require.Equal(t, "upstream-at", b.AccessToken)
}

func TestExchangeIsSingleUse(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedBundle(t, st, "state-2")

	_, err := m.Exchange(ctx, "state-2", "", "", "")
	require.NoError(t, err)

	_, err = m.Exchange(ctx, "state-2", "", "", "")
	require.ErrorIs(t, err, ErrStateNotFound)
}

// N exchanges concurrentes del mismo state: exactamente uno mintea sesión,
// el resto ve el state ya consumido.
func TestExchangeConcurrentSingleWinner(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedBundle(t, st, "state-race")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Exchange(ctx, "state-race", "", "", "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrStateNotFound) {
			t.Fatalf("error inesperado: %v", err)
		}
	}
	require.Equal(t, 1, wins)
}

func TestExchangeIdentityMismatch(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	// Bundle ya atado a otro usuario: nadie más lo puede reclamar.
	err := st.SaveBundleForState(ctx, "state-bound", &store.ProviderTokenBundle{
		Provider:    "google",
		AccessToken: "upstream-at",
		TokenType:   "Bearer",
		UserID:      "owner",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = m.Exchange(ctx, "state-bound", "intruder", "", "")
	require.ErrorIs(t, err, ErrIdentityMismatch)

	// El dueño sí puede.
	sess, err := m.Exchange(ctx, "state-bound", "owner", "", "")
	require.NoError(t, err)
	require.Equal(t, "owner", sess.UserID)
}

func TestExchangeUnknownState(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Exchange(context.Background(), "never-seen", "", "", ""); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("err = %v, want ErrStateNotFound", err)
	}
	if _, err := m.Exchange(context.Background(), "", "", "", ""); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("empty state: err = %v, want ErrStateNotFound", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedBundle(t, st, "state-3")

	first, err := m.Exchange(ctx, "state-3", "user-a", "", "")
	require.NoError(t, err)

	second, err := m.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-a", second.UserID)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEmpty(t, second.AccessToken)

	// El refresh original quedó revocado: su replay se rechaza.
	_, err = m.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)

	// La cadena sigue viva desde el sucesor.
	third, err := m.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-a", third.UserID)
}

func TestRefreshExpired(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	// TTL negativo: nace expirado.
	rec, err := st.CreateRefresh(ctx, "user-b", "jti-x", -time.Minute)
	require.NoError(t, err)

	_, err = m.Refresh(ctx, rec.ID)
	require.ErrorIs(t, err, ErrRefreshExpired)
}

func TestRefreshUnknownToken(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Refresh(context.Background(), "b0a6c2de-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = m.Refresh(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestLogoutRevokesAndIsIdempotent(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedBundle(t, st, "state-4")

	sess, err := m.Exchange(ctx, "state-4", "user-c", "", "")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, sess.RefreshToken))

	// El refresh ya no sirve.
	_, err = m.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)

	// Repetir el logout no es error, y un token desconocido tampoco.
	require.NoError(t, m.Logout(ctx, sess.RefreshToken))
	require.NoError(t, m.Logout(ctx, "nunca-existio"))
}

func TestSessionReflectsRolesAndMFA(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedBundle(t, st, "state-5")

	_, err := st.SetRoles(ctx, "user-d", []string{"admin", "editor"})
	require.NoError(t, err)
	require.NoError(t, st.UpsertMFA(ctx, "user-d", "aabbccdd", true))

	sess, err := m.Exchange(ctx, "state-5", "user-d", "ud@example.com", "User D")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"admin", "editor"}, sess.Roles)
	require.True(t, sess.MFAEnabled)
}
