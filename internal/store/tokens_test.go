package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/gatekeeper/internal/kv"
)

func newTestStore() *Store {
	return New(kv.NewMemory(), nil)
}

func TestRotateRefresh_Chain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	r0, err := s.CreateRefresh(ctx, "user-1", "jti-0", time.Hour)
	if err != nil {
		t.Fatalf("CreateRefresh err: %v", err)
	}

	r1, err := s.RotateRefresh(ctx, r0.ID, "jti-1", time.Hour)
	if err != nil {
		t.Fatalf("primera rotación err: %v", err)
	}
	if r1.Subject != "user-1" {
		t.Fatalf("subject no se propagó: %q", r1.Subject)
	}
	if r1.ID == r0.ID {
		t.Fatalf("rotación devolvió el mismo id")
	}

	// el predecesor quedó revocado
	old, err := s.GetRefresh(ctx, r0.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !old.Revoked {
		t.Fatalf("r0 no quedó revocado tras rotar")
	}

	// replay de r0: rechazado
	if _, err := s.RotateRefresh(ctx, r0.ID, "jti-2", time.Hour); !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("replay de r0: want ErrRefreshRevoked, got %v", err)
	}

	// r1 sigue vivo
	if _, err := s.RotateRefresh(ctx, r1.ID, "jti-3", time.Hour); err != nil {
		t.Fatalf("rotar r1 err: %v", err)
	}
}

func TestRotateRefresh_Expired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	r0, err := s.CreateRefresh(ctx, "user-1", "jti-0", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RotateRefresh(ctx, r0.ID, "jti-1", time.Hour); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("want ErrRefreshExpired, got %v", err)
	}
}

func TestRotateRefresh_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.RotateRefresh(ctx, "no-existe", "jti", time.Hour); !IsNotFound(err) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// Dos refresh concurrentes del mismo token: exactamente uno gana.
func TestRotateRefresh_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	r0, err := s.CreateRefresh(ctx, "user-1", "jti-0", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.RotateRefresh(ctx, r0.ID, "jti-x", time.Hour)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrRefreshRevoked) {
			t.Fatalf("error inesperado: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("ganadores = %d, want 1", wins)
	}
}

func TestRevokeRefresh_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	r0, err := s.CreateRefresh(ctx, "user-1", "jti-0", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RevokeRefresh(ctx, r0.ID); err != nil {
		t.Fatalf("primer revoke err: %v", err)
	}
	if err := s.RevokeRefresh(ctx, r0.ID); err != nil {
		t.Fatalf("revoke repetido err: %v", err)
	}
	if err := s.RevokeRefresh(ctx, "inexistente"); err != nil {
		t.Fatalf("revoke de token inexistente err: %v", err)
	}
}

// N exchanges concurrentes del mismo state: exactamente uno consume el bundle.
func TestConsumeBundleForState_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if err := s.SaveBundleForState(ctx, "st-race", &ProviderTokenBundle{
		Provider:    "google",
		AccessToken: "upstream-access",
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ConsumeBundleForState(ctx, "st-race", "user-1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !IsNotFound(err) {
			t.Fatalf("error inesperado: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("ganadores = %d, want 1", wins)
	}
}

// Un bundle atado a otro usuario no se consume: el dueño todavía puede.
func TestConsumeBundleForState_BoundToOther(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	if err := s.SaveBundleForState(ctx, "st-bound", &ProviderTokenBundle{
		Provider:  "google",
		UserID:    "owner",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ConsumeBundleForState(ctx, "st-bound", "intruso"); !errors.Is(err, ErrBundleBound) {
		t.Fatalf("want ErrBundleBound, got %v", err)
	}
	// el rechazo no consumió el bundle
	if _, err := s.ConsumeBundleForState(ctx, "st-bound", "owner"); err != nil {
		t.Fatalf("el dueño no pudo consumir: %v", err)
	}
}

func TestBundles_StateLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	b := &ProviderTokenBundle{
		Provider:    "google",
		AccessToken: "upstream-access",
		ExpiresIn:   3600,
		TokenType:   "Bearer",
		Scope:       "openid email",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SaveBundleForState(ctx, "st-1", b); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBundleForState(ctx, "st-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "google" || got.AccessToken != "upstream-access" {
		t.Fatalf("bundle = %+v", got)
	}

	// migración a permanente + borrado de la copia transitoria
	if err := s.SaveBundleForUser(ctx, "user-1", "google", got); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBundleForState(ctx, "st-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetBundleForState(ctx, "st-1"); !IsNotFound(err) {
		t.Fatalf("copia transitoria sigue viva: %v", err)
	}
	perm, err := s.GetBundleForUser(ctx, "user-1", "google")
	if err != nil {
		t.Fatal(err)
	}
	if perm.UserID != "user-1" {
		t.Fatalf("bundle permanente sin user id: %+v", perm)
	}
}
