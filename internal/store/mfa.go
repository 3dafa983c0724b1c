package store

import (
	"context"
	"time"
)

// MFARecord es la configuración TOTP de un usuario. El secreto se genera una
// vez; deshabilitar apaga el flag sin descartar el secreto, así re-habilitar
// no exige re-enrolar.
type MFARecord struct {
	UserID    string    `json:"user_id"`
	Secret    string    `json:"secret"` // en el kv viaja cifrado si hay box
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) encryptSecret(plain string) (string, error) {
	if s.box == nil {
		return plain, nil
	}
	return s.box.Encrypt(plain)
}

func (s *Store) decryptSecret(stored string) (string, error) {
	if s.box == nil {
		return stored, nil
	}
	return s.box.Decrypt(stored)
}

// GetMFA carga el registro con el secreto ya descifrado.
func (s *Store) GetMFA(ctx context.Context, userID string) (*MFARecord, error) {
	var rec MFARecord
	if err := s.loadJSON(ctx, colMFA, userID, &rec); err != nil {
		return nil, err
	}
	plain, err := s.decryptSecret(rec.Secret)
	if err != nil {
		return nil, err
	}
	rec.Secret = plain
	return &rec, nil
}

// UpsertMFA guarda un registro nuevo (enrolamiento: enabled=false hasta que
// un verify lo confirme). El secreto llega en claro y se cifra acá.
func (s *Store) UpsertMFA(ctx context.Context, userID, secret string, enabled bool) error {
	unlock := s.lock(colMFA, userID)
	defer unlock()

	now := time.Now().UTC()
	created := now
	var prev MFARecord
	if err := s.loadJSON(ctx, colMFA, userID, &prev); err == nil {
		created = prev.CreatedAt
	}

	enc, err := s.encryptSecret(secret)
	if err != nil {
		return err
	}
	rec := MFARecord{
		UserID:    userID,
		Secret:    enc,
		Enabled:   enabled,
		CreatedAt: created,
		UpdatedAt: now,
	}
	return s.saveJSON(ctx, colMFA, userID, &rec)
}

// EnableMFA prende el flag tras un verify correcto.
func (s *Store) EnableMFA(ctx context.Context, userID string) error {
	return s.setMFAEnabled(ctx, userID, true)
}

// DisableMFA apaga el flag conservando el secreto.
func (s *Store) DisableMFA(ctx context.Context, userID string) error {
	return s.setMFAEnabled(ctx, userID, false)
}

func (s *Store) setMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	unlock := s.lock(colMFA, userID)
	defer unlock()

	var rec MFARecord
	if err := s.loadJSON(ctx, colMFA, userID, &rec); err != nil {
		return err
	}
	rec.Enabled = enabled
	rec.UpdatedAt = time.Now().UTC()
	return s.saveJSON(ctx, colMFA, userID, &rec)
}
