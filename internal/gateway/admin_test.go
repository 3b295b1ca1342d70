package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AlexKimmel/CellGate/internal/ratelimit"
	"github.com/AlexKimmel/CellGate/internal/ratelimit/memory"
)

func newTestAdmin(t *testing.T) (*Admin, *http.ServeMux, *ratelimit.Table) {
	t.Helper()
	table := &ratelimit.Table{Default: ratelimit.Policy{Rate: 10, Period: time.Second, Burst: 30}}
	a := &Admin{
		Limiter:  memory.New(),
		Policies: func() *ratelimit.Table { return table },
		SetDefault: func(p ratelimit.Policy) error {
			table.Default = p
			return nil
		},
		InstanceID: "test",
		StartedAt:  time.Now(),
	}
	mux := http.NewServeMux()
	a.Register(mux)
	return a, mux, table
}

func TestAdminCapacity(t *testing.T) {
	_, mux, _ := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/capacity?route=api&key=k1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Route     string `json:"route"`
		Key       string `json:"key"`
		Available int    `json:"available"`
		Limit     int    `json:"limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Available != 30 || body.Limit != 30 {
		t.Fatalf("body = %+v, want available 30 of 30", body)
	}
}

func TestAdminStatus(t *testing.T) {
	_, mux, _ := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		InstanceID   string `json:"instance_id"`
		Uptime       int    `json:"uptime_seconds"`
		DefaultLimit struct {
			Rate int `json:"rate"`
		} `json:"default_limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.InstanceID != "test" || body.DefaultLimit.Rate != 10 {
		t.Fatalf("body = %+v", body)
	}
}

func TestAdminCapacityRequiresSubject(t *testing.T) {
	_, mux, _ := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/capacity", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminReplaceDefaultLimit(t *testing.T) {
	_, mux, table := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/limits",
		strings.NewReader(`{"rate":20,"period_ms":1000,"burst":40}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if table.Default.Rate != 20 || table.Default.Burst != 40 {
		t.Fatalf("table not updated: %+v", table.Default)
	}
}

func TestAdminRejectsInvalidLimit(t *testing.T) {
	_, mux, table := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/limits",
		strings.NewReader(`{"rate":10,"period_ms":1000,"burst":5}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	// prior policy untouched
	if table.Default.Rate != 10 || table.Default.Burst != 30 {
		t.Fatalf("table changed on invalid limit: %+v", table.Default)
	}
}

func TestAdminReadLimits(t *testing.T) {
	_, mux, _ := newTestAdmin(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/limits", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Rate     int `json:"rate"`
		PeriodMS int `json:"period_ms"`
		Burst    int `json:"burst"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Rate != 10 || body.PeriodMS != 1000 || body.Burst != 30 {
		t.Fatalf("body = %+v", body)
	}
}
