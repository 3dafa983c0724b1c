// Package rate implementa rate limiting fixed-window por clave (default:
// IP del cliente). Driver memory para proceso único; driver redis para
// despliegues con más de una instancia.
package rate

import (
	"context"
	"time"
)

// Result es el veredicto de una consulta al limiter.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

// Limiter decide si un request identificado por key pasa.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
