package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry es un evento de seguridad append-only.
type AuditEntry struct {
	TS     time.Time      `json:"ts"`
	Event  string         `json:"event"`
	UserID string         `json:"user_id,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// AppendAudit agrega una entrada al log de auditoría. Cada entrada vive en
// su propia key (ts + uuid) para que el append no reescriba el log entero.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	key := fmt.Sprintf("%020d-%s", e.TS.UnixNano(), uuid.NewString())
	return s.saveJSON(ctx, colAudit, key, &e)
}

// ListAudit devuelve todas las entradas (sin orden garantizado; el caller
// ordena por TS si lo necesita). Pensado para inspección y tests.
func (s *Store) ListAudit(ctx context.Context) ([]AuditEntry, error) {
	docs, err := s.kv.List(ctx, colAudit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(docs))
	for key := range docs {
		var e AuditEntry
		if err := s.loadJSON(ctx, colAudit, key, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
