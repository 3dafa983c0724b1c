package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProviderTokenBundle son los tokens upstream resultado del code exchange.
// Primero vive keyed por state (pendiente de session exchange); después se
// re-guarda keyed por (user, provider) y se vuelve inmutable.
type ProviderTokenBundle struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int       `json:"expires_in"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UserID       string    `json:"user_id,omitempty"`
}

// RefreshTokenRecord es el refresh token rotativo de la aplicación.
// Por cadena de sesión viva debería existir exactamente un registro activo
// (no revocado, no vencido); la rotación revoca el predecesor atómicamente.
type RefreshTokenRecord struct {
	ID        string    `json:"id"`
	Subject   string    `json:"sub"`
	AccessJTI string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// ─────────────── Provider token bundles ───────────────

func stateKey(state string) string { return "state:" + state }

func userKey(userID, provider string) string { return "user:" + userID + ":" + provider }

// SaveBundleForState guarda el bundle pendiente, keyed por state.
func (s *Store) SaveBundleForState(ctx context.Context, state string, b *ProviderTokenBundle) error {
	unlock := s.lock(colBundles, stateKey(state))
	defer unlock()
	return s.saveJSON(ctx, colBundles, stateKey(state), b)
}

// GetBundleForState carga el bundle pendiente. ErrNotFound si ya fue
// consumido o nunca existió.
func (s *Store) GetBundleForState(ctx context.Context, state string) (*ProviderTokenBundle, error) {
	var b ProviderTokenBundle
	if err := s.loadJSON(ctx, colBundles, stateKey(state), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ConsumeBundleForState carga y borra el bundle pendiente bajo el lock del
// registro: de N exchanges concurrentes del mismo state exactamente uno se
// lleva el bundle y el resto cae en ErrNotFound. Un bundle ya atado a otro
// usuario no se consume (ErrBundleBound): sigue disponible para su dueño.
func (s *Store) ConsumeBundleForState(ctx context.Context, state, userID string) (*ProviderTokenBundle, error) {
	unlock := s.lock(colBundles, stateKey(state))
	defer unlock()

	var b ProviderTokenBundle
	if err := s.loadJSON(ctx, colBundles, stateKey(state), &b); err != nil {
		return nil, err
	}
	if b.UserID != "" && b.UserID != userID {
		return nil, ErrBundleBound
	}
	if err := s.kv.Delete(ctx, colBundles, stateKey(state)); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBundleForState borra la copia transitoria keyed por state.
func (s *Store) DeleteBundleForState(ctx context.Context, state string) error {
	unlock := s.lock(colBundles, stateKey(state))
	defer unlock()
	return s.kv.Delete(ctx, colBundles, stateKey(state))
}

// SaveBundleForUser migra el bundle a almacenamiento permanente por
// (user, provider) y lo ata al usuario.
func (s *Store) SaveBundleForUser(ctx context.Context, userID, provider string, b *ProviderTokenBundle) error {
	unlock := s.lock(colBundles, userKey(userID, provider))
	defer unlock()
	bound := *b
	bound.UserID = userID
	return s.saveJSON(ctx, colBundles, userKey(userID, provider), &bound)
}

// GetBundleForUser carga el bundle permanente de un usuario/provider.
func (s *Store) GetBundleForUser(ctx context.Context, userID, provider string) (*ProviderTokenBundle, error) {
	var b ProviderTokenBundle
	if err := s.loadJSON(ctx, colBundles, userKey(userID, provider), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ─────────────── Refresh tokens ───────────────

// CreateRefresh emite un refresh token nuevo para sub.
func (s *Store) CreateRefresh(ctx context.Context, sub, accessJTI string, ttl time.Duration) (*RefreshTokenRecord, error) {
	now := time.Now().UTC()
	rec := &RefreshTokenRecord{
		ID:        uuid.NewString(),
		Subject:   sub,
		AccessJTI: accessJTI,
		ExpiresAt: now.Add(ttl),
		Revoked:   false,
		CreatedAt: now,
	}
	unlock := s.lock(colRefresh, rec.ID)
	defer unlock()
	if err := s.saveJSON(ctx, colRefresh, rec.ID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRefresh carga un registro. ErrNotFound si no existe.
func (s *Store) GetRefresh(ctx context.Context, id string) (*RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	if err := s.loadJSON(ctx, colRefresh, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RotateRefresh es el paso de rotación: bajo el lock del registro viejo,
// valida que siga activo, lo marca revocado y crea el sucesor con el mismo
// subject. Un token ya rotado presentado de nuevo cae en ErrRefreshRevoked:
// ese rechazo es el único mecanismo de detección de replay en scope (no se
// revoca la cadena completa; decisión registrada en DESIGN.md).
func (s *Store) RotateRefresh(ctx context.Context, oldID, accessJTI string, ttl time.Duration) (*RefreshTokenRecord, error) {
	unlock := s.lock(colRefresh, oldID)
	defer unlock()

	var old RefreshTokenRecord
	if err := s.loadJSON(ctx, colRefresh, oldID, &old); err != nil {
		return nil, err
	}
	if old.Revoked {
		return nil, ErrRefreshRevoked
	}
	now := time.Now().UTC()
	if now.After(old.ExpiresAt) {
		return nil, ErrRefreshExpired
	}

	old.Revoked = true
	if err := s.saveJSON(ctx, colRefresh, oldID, &old); err != nil {
		return nil, err
	}

	next := &RefreshTokenRecord{
		ID:        uuid.NewString(),
		Subject:   old.Subject,
		AccessJTI: accessJTI,
		ExpiresAt: now.Add(ttl),
		Revoked:   false,
		CreatedAt: now,
	}
	if err := s.saveJSON(ctx, colRefresh, next.ID, next); err != nil {
		return nil, err
	}
	return next, nil
}

// RevokeRefresh marca el registro revocado. Idempotente: ya revocado o
// inexistente también es éxito.
func (s *Store) RevokeRefresh(ctx context.Context, id string) error {
	unlock := s.lock(colRefresh, id)
	defer unlock()

	var rec RefreshTokenRecord
	if err := s.loadJSON(ctx, colRefresh, id, &rec); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if rec.Revoked {
		return nil
	}
	rec.Revoked = true
	return s.saveJSON(ctx, colRefresh, id, &rec)
}
