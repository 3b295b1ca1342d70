package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareResolvesKeyID(t *testing.T) {
	store := NewStatic("", map[string]string{"secret-1": "team-a"})

	var gotID string
	var gotOK bool
	h := store.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = KeyIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("X-API-Key", "secret-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !gotOK || gotID != "team-a" {
		t.Fatalf("key id = %q, %v; want team-a", gotID, gotOK)
	}
}

func TestMiddlewareRejectsBadKeys(t *testing.T) {
	store := NewStatic("X-Token", map[string]string{"secret-1": "team-a"})
	h := store.Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler reached without a valid key")
	}))

	for name, set := range map[string]func(*http.Request){
		"missing": func(*http.Request) {},
		"unknown": func(r *http.Request) { r.Header.Set("X-Token", "nope") },
		"wrong header": func(r *http.Request) {
			r.Header.Set("X-API-Key", "secret-1")
		},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		set(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestMiddlewareSkipPaths(t *testing.T) {
	store := NewStatic("", nil)
	called := false
	h := store.Middleware(map[string]struct{}{"/health": {}})(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("skip path blocked: called=%v code=%d", called, rec.Code)
	}
}
