package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/AlexKimmel/CellGate/internal/ratelimit"
)

// Admin exposes the operational surface: subject capacity inspection and
// live replacement of the default limit. It is mounted on skip-listed
// paths, so it is never rate limited itself.
type Admin struct {
	Limiter    ratelimit.Limiter
	Policies   func() *ratelimit.Table
	SetDefault func(ratelimit.Policy) error
	InstanceID string
	StartedAt  time.Time
}

type limitBody struct {
	Rate     int `json:"rate"`
	PeriodMS int `json:"period_ms"`
	Burst    int `json:"burst"`
}

func (b limitBody) policy() ratelimit.Policy {
	return ratelimit.Policy{
		Rate:   b.Rate,
		Period: time.Duration(b.PeriodMS) * time.Millisecond,
		Burst:  b.Burst,
	}
}

func policyBody(p ratelimit.Policy) limitBody {
	return limitBody{
		Rate:     p.Rate,
		PeriodMS: int(p.Period / time.Millisecond),
		Burst:    p.Burst,
	}
}

// Register mounts the admin endpoints on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/capacity", a.capacity)
	mux.HandleFunc("/admin/limits", a.limits)
	mux.HandleFunc("/admin/status", a.status)
}

func (a *Admin) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"instance_id":    a.InstanceID,
		"uptime_seconds": int(time.Since(a.StartedAt).Seconds()),
		"default_limit":  policyBody(a.Policies().Default),
	})
}

// capacity reports the units a subject could be admitted right now,
// without consuming any. Query params: route, key.
func (a *Admin) capacity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	routeID := r.URL.Query().Get("route")
	keyID := r.URL.Query().Get("key")
	if routeID == "" || keyID == "" {
		writeJSON(w, http.StatusBadRequest, "missing_subject", "route and key query params are required")
		return
	}

	p := a.Policies().Resolve(routeID, keyID)
	avail, err := a.Limiter.Capacity(r.Context(), routeID+":"+keyID, p, time.Now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, "rate_limiter_error", "internal rate limiter error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"route":     routeID,
		"key":       keyID,
		"available": avail,
		"limit":     p.Ceiling(),
	})
}

// limits reads (GET) or replaces (PUT) the default limit at runtime.
// Replacement goes through the same validation as config load, and
// existing subjects carry their consumed capacity into the new limit.
func (a *Admin) limits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(policyBody(a.Policies().Default))

	case http.MethodPut:
		var body limitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, "invalid_body", "body must be JSON with rate, period_ms, burst")
			return
		}
		p := body.policy()
		if err := p.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, "invalid_limit", err.Error())
			return
		}
		if err := a.SetDefault(p); err != nil {
			writeJSON(w, http.StatusInternalServerError, "adjust_failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(policyBody(p))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or PUT")
	}
}
