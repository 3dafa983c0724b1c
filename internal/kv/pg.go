package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres guarda los documentos en una tabla única kv_documents.
// El schema se asegura al abrir; no hay migraciones versionadas para una
// tabla de un solo shape.
type Postgres struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS kv_documents (
	collection TEXT  NOT NULL,
	key        TEXT  NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
)`

func openPostgres(ctx context.Context, cfg Config) (Store, error) {
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("kv: pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: pg ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Load(ctx context.Context, collection, key string) ([]byte, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM kv_documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: pg select: %w", err)
	}
	return doc, nil
}

func (p *Postgres) Save(ctx context.Context, collection, key string, doc []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv_documents (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		collection, key, doc,
	)
	if err != nil {
		return fmt.Errorf("kv: pg upsert: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM kv_documents WHERE collection = $1 AND key = $2`,
		collection, key,
	)
	if err != nil {
		return fmt.Errorf("kv: pg delete: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, doc FROM kv_documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("kv: pg list: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var doc []byte
		if err := rows.Scan(&k, &doc); err != nil {
			return nil, fmt.Errorf("kv: pg scan: %w", err)
		}
		out[k] = doc
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
