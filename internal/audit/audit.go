// Package audit registra transiciones relevantes de seguridad. Cada evento
// se persiste en el Identity Store (append-only) y se espeja en el log
// estructurado para tener trazabilidad aun si el store falla.
package audit

import (
	"context"

	"github.com/dropDatabas3/gatekeeper/internal/observability/logger"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

// Recorder persiste eventos de auditoría.
type Recorder struct {
	Store *store.Store
}

// New crea un Recorder.
func New(s *store.Store) *Recorder {
	return &Recorder{Store: s}
}

// Event registra un evento. userID puede ser vacío cuando el sujeto no se
// conoce todavía (p.ej. callback OAuth fallido). Un error del store no corta
// el flujo del caller: se loguea y listo — preferimos servir el request antes
// que perder la sesión por una entrada de auditoría.
func (r *Recorder) Event(ctx context.Context, event, userID string, detail map[string]any) {
	log := logger.From(ctx).With(logger.Component("audit"), logger.Event(event))
	if userID != "" {
		log = log.With(logger.UserID(userID))
	}
	log.Info("audit", logger.Any("detail", detail))

	if r == nil || r.Store == nil {
		return
	}
	if err := r.Store.AppendAudit(ctx, store.AuditEntry{
		Event:  event,
		UserID: userID,
		Detail: detail,
	}); err != nil {
		log.Warn("audit append failed", logger.Err(err))
	}
}
