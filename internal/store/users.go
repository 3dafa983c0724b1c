package store

import (
	"context"
	"time"
)

// ProviderLink registra cuándo se conectó un provider al usuario.
type ProviderLink struct {
	ConnectedAt time.Time `json:"connected_at"`
}

// User es el ancla de identidad. El id es estable; nunca se borra en scope.
type User struct {
	ID        string                  `json:"id"`
	Email     string                  `json:"email,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Providers map[string]ProviderLink `json:"providers,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// GetUser carga un usuario. ErrNotFound si no existe.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.loadJSON(ctx, colUsers, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser crea el usuario si no existe; si existe, actualiza email/name
// cuando vienen no vacíos. Upsert atómico bajo el lock del registro.
func (s *Store) EnsureUser(ctx context.Context, id, email, name string) (*User, error) {
	unlock := s.lock(colUsers, id)
	defer unlock()

	now := time.Now().UTC()
	var u User
	err := s.loadJSON(ctx, colUsers, id, &u)
	switch {
	case err == nil:
		if email != "" {
			u.Email = email
		}
		if name != "" {
			u.Name = name
		}
		u.UpdatedAt = now
	case IsNotFound(err):
		u = User{
			ID:        id,
			Email:     email,
			Name:      name,
			Providers: map[string]ProviderLink{},
			CreatedAt: now,
			UpdatedAt: now,
		}
	default:
		return nil, err
	}
	if err := s.saveJSON(ctx, colUsers, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkProviderConnected anota provider→connectedAt en el usuario.
// No-op silencioso si el usuario no existe (mismo contrato que el upstream
// lo llama: siempre después de EnsureUser).
func (s *Store) MarkProviderConnected(ctx context.Context, userID, provider string) error {
	unlock := s.lock(colUsers, userID)
	defer unlock()

	var u User
	if err := s.loadJSON(ctx, colUsers, userID, &u); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if u.Providers == nil {
		u.Providers = map[string]ProviderLink{}
	}
	now := time.Now().UTC()
	u.Providers[provider] = ProviderLink{ConnectedAt: now}
	u.UpdatedAt = now
	return s.saveJSON(ctx, colUsers, userID, &u)
}
