package http

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// userLimiter ограничивает частоту запросов отдельно для каждого пользователя.
type userLimiter struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map
}

func newUserLimiter(limit rate.Limit, burst int) *userLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{limit: limit, burst: burst}
}

func (l *userLimiter) allow(userID string) bool {
	value, ok := l.limiters.Load(userID)
	if !ok {
		value, _ = l.limiters.LoadOrStore(userID, rate.NewLimiter(l.limit, l.burst))
	}
	return value.(*rate.Limiter).Allow()
}

// middleware отвечает 429, когда пользователь исчерпал лимит.
// Нулевой лимит отключает ограничение.
func (l *userLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		identity, _ := IdentityFromContext(r.Context())
		if !l.allow(identity.UserID) {
			w.Header().Set("Retry-After", "1")
			respondMessage(w, http.StatusTooManyRequests, "Too many checkout requests, please retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
