// Package kv define el contrato del colaborador de persistencia: un store
// clave-valor de documentos JSON por colección lógica (users, refresh, mfa,
// roles, bundles, audit). El broker no especifica el motor; solo exige que
// una lectura devuelva el último write commiteado y que Save sea durable al
// retornar.
//
// Drivers: memory (in-process, dev/testing), redis (HSET por colección) y
// postgres (tabla kv_documents vía pgx).
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Errores del contrato.
var (
	// ErrNotFound indica que la key no existe en la colección.
	ErrNotFound = errors.New("kv: not found")
	// ErrUnknownDriver indica un driver no soportado en la config.
	ErrUnknownDriver = errors.New("kv: unknown driver")
)

// Store es el contrato mínimo de documentos por colección.
type Store interface {
	// Load lee el documento. Retorna ErrNotFound si no existe.
	Load(ctx context.Context, collection, key string) ([]byte, error)

	// Save guarda (upsert) el documento. Durable al retornar.
	Save(ctx context.Context, collection, key string, doc []byte) error

	// Delete elimina la key. No-op si no existe.
	Delete(ctx context.Context, collection, key string) error

	// List devuelve todos los documentos de una colección (key → doc).
	List(ctx context.Context, collection string) (map[string][]byte, error)

	// Close libera recursos del driver.
	Close() error
}

// Config selecciona e inicializa un driver.
type Config struct {
	Driver string // "memory" | "redis" | "postgres"

	Redis    RedisConfig
	Postgres PostgresConfig
}

// RedisConfig son los parámetros del driver redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// PostgresConfig son los parámetros del driver postgres.
type PostgresConfig struct {
	DSN string
}

// Open crea el Store según cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return openRedis(ctx, cfg)
	case "postgres", "pg":
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
