package rate

import (
	"context"
	"sync"
	"time"
)

// bucket arranca con Max tokens; cuando pasa la ventana desde el último
// reset se rellena y la ventana reinicia. Cada request consume un token.
type bucket struct {
	tokens  int64
	resetAt time.Time
}

// MemoryLimiter: fixed window in-process. Estado local al proceso y sin
// cota de cardinalidad de claves (caveat operacional, no de corrección).
type MemoryLimiter struct {
	Max    int64
	Window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	// now inyectable para tests
	now func() time.Time
}

// NewMemoryLimiter crea el limiter con límite y ventana fijos.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		Max:     int64(max),
		Window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.resetAt) >= l.Window {
		b = &bucket{tokens: l.Max, resetAt: now}
		l.buckets[key] = b
	}

	ttl := l.Window - now.Sub(b.resetAt)
	if b.tokens <= 0 {
		return Result{
			Allowed:     false,
			Remaining:   0,
			RetryAfter:  ttl,
			WindowTTL:   ttl,
			CurrentHits: l.Max,
		}, nil
	}

	b.tokens--
	return Result{
		Allowed:     true,
		Remaining:   b.tokens,
		WindowTTL:   ttl,
		CurrentHits: l.Max - b.tokens,
	}, nil
}
