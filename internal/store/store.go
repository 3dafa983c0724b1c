// Package store es el Identity Store del broker: dueño exclusivo de todos
// los registros persistidos (usuarios, refresh tokens, bundles de provider,
// MFA, roles, auditoría) encima del contrato kv.Store.
//
// Disciplina de concurrencia: toda mutación es read-modify-write sobre un
// registro compartido, así que los writers al MISMO registro serializan con
// un mutex por clave lógica. Esto importa sobre todo en la rotación de
// refresh tokens, donde dos refresh concurrentes del mismo token no pueden
// ganar los dos.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dropDatabas3/gatekeeper/internal/kv"
	"github.com/dropDatabas3/gatekeeper/internal/security/secretbox"
)

// Colecciones lógicas dentro del kv.
const (
	colUsers   = "users"
	colRefresh = "refresh_tokens"
	colBundles = "provider_tokens"
	colMFA     = "mfa"
	colRoles   = "roles"
	colAudit   = "audit"
)

// Errores del dominio.
var (
	// ErrNotFound indica que el registro no existe.
	ErrNotFound = errors.New("store: not found")
	// ErrRefreshRevoked indica un refresh token ya revocado (replay detectado
	// o logout previo).
	ErrRefreshRevoked = errors.New("store: refresh token revoked")
	// ErrRefreshExpired indica un refresh token vencido.
	ErrRefreshExpired = errors.New("store: refresh token expired")
	// ErrBundleBound indica un bundle pendiente ya atado a otro usuario.
	ErrBundleBound = errors.New("store: bundle bound to another user")
)

// Store implementa el Identity Store.
type Store struct {
	kv  kv.Store
	box *secretbox.Box // cifrado at-rest del secreto TOTP; nil = plaintext (solo dev)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New crea el store. box puede ser nil en desarrollo (secreto MFA sin cifrar).
func New(kvs kv.Store, box *secretbox.Box) *Store {
	return &Store{
		kv:    kvs,
		box:   box,
		locks: make(map[string]*sync.Mutex),
	}
}

// lock devuelve el mutex del registro lógico y lo toma.
// La cardinalidad del mapa crece con las claves tocadas; aceptable en scope
// (misma caveat operacional que los buckets del rate limiter).
func (s *Store) lock(kind, key string) func() {
	id := kind + ":" + key
	s.mu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Store) loadJSON(ctx context.Context, collection, key string, v any) error {
	doc, err := s.kv.Load(ctx, collection, key)
	if err != nil {
		if kv.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: load %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *Store) saveJSON(ctx context.Context, collection, key string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, key, err)
	}
	if err := s.kv.Save(ctx, collection, key, doc); err != nil {
		return fmt.Errorf("store: save %s/%s: %w", collection, key, err)
	}
	return nil
}

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
