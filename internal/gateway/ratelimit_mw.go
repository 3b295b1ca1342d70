package gateway

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/AlexKimmel/CellGate/internal/auth"
	"github.com/AlexKimmel/CellGate/internal/ratelimit"
	"github.com/AlexKimmel/CellGate/internal/routing"
)

// CostHeader lets a client declare how many units a request is worth.
// Absent or empty means 1.
const CostHeader = "X-Request-Cost"

// RateLimit admits or rejects each request through lim. The subject key is
// routeID:keyID so every API key is shaped per route; the policy comes from
// the current table, which a config reload can swap at any time.
//
// Denials answer 429 with Retry-After rounded up to whole seconds. A cost
// above the policy's burst ceiling can never be admitted, so it answers 413
// without Retry-After: clients should not retry those.
func RateLimit(
	lim ratelimit.Limiter,
	policies func() *ratelimit.Table,
	skipPaths map[string]struct{},
	onLimited func(routeID string, d ratelimit.Decision),
	onError func(routeID string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			keyID, ok := auth.KeyIDFrom(r.Context())
			if !ok || keyID == "" {
				keyID = "anon"
			}

			routeID := "unknown"
			if rt, _ := routing.RouteFrom(r); rt != nil && rt.ID != "" {
				routeID = rt.ID
			}

			cost := 1
			if raw := r.Header.Get(CostHeader); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					writeJSON(w, http.StatusBadRequest, "invalid_cost", "X-Request-Cost must be a non-negative integer")
					return
				}
				cost = n
			}

			p := policies().Resolve(routeID, keyID)

			dec, err := lim.Allow(r.Context(), routeID+":"+keyID, cost, p, time.Now())
			if err != nil {
				if onError != nil {
					onError(routeID)
				}
				writeJSON(w, http.StatusInternalServerError, "rate_limiter_error", "internal rate limiter error")
				return
			}

			if dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(maxInt(dec.Remaining, 0)))
			}

			if !dec.Allowed {
				if onLimited != nil {
					onLimited(routeID, dec)
				}
				if dec.ExceedsBurst {
					writeJSON(w, http.StatusRequestEntityTooLarge, "cost_exceeds_burst",
						"Request cost exceeds the burst ceiling and can never be admitted")
					return
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(dec.RetryAfter)))
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up so a client honoring the header never retries
// early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
