package store

import (
	"context"
	"sort"
)

// GetRoles retorna los roles del usuario. Usuario desconocido = set vacío,
// nunca error.
func (s *Store) GetRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	if err := s.loadJSON(ctx, colRoles, userID, &roles); err != nil {
		if IsNotFound(err) {
			return []string{}, nil
		}
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}

// SetRoles sobreescribe el set de roles del usuario. Semántica de conjunto:
// sin duplicados, orden estable para que el JSON persistido sea determinista.
func (s *Store) SetRoles(ctx context.Context, userID string, roles []string) ([]string, error) {
	unlock := s.lock(colRoles, userID)
	defer unlock()

	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)

	if err := s.saveJSON(ctx, colRoles, userID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HasAnyRole chequea intersección entre los roles del usuario y required.
func (s *Store) HasAnyRole(ctx context.Context, userID string, required []string) (bool, error) {
	have, err := s.GetRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(have))
	for _, r := range have {
		set[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true, nil
		}
	}
	return false, nil
}
