package routing

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func route(id, prefix string, methods ...string) *Route {
	ms := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		ms[m] = struct{}{}
	}
	return &Route{
		ID:      id,
		Methods: ms,
		Prefix:  prefix,
		UpURL:   &url.URL{Scheme: "http", Host: "localhost:9001"},
		Timeout: time.Second,
	}
}

func TestMatchPrefix(t *testing.T) {
	r := New()
	r.Add(route("api", "/api", "GET"))
	r.Add(route("ingest", "/ingest", "POST"))

	cases := []struct {
		method, path string
		want         string
		ok           bool
	}{
		{"GET", "/api", "api", true},
		{"GET", "/api/users", "api", true},
		{"get", "/api/users", "api", true}, // method is case-insensitive
		{"POST", "/api/users", "", false},  // method not allowed on route
		{"POST", "/ingest/batch", "ingest", true},
		{"GET", "/apiary", "", false}, // prefix must end at a segment
		{"GET", "/other", "", false},
	}
	for _, tc := range cases {
		rt, ok := r.Match(tc.method, tc.path)
		if ok != tc.ok {
			t.Errorf("Match(%s %s) ok = %v, want %v", tc.method, tc.path, ok, tc.ok)
			continue
		}
		if ok && rt.ID != tc.want {
			t.Errorf("Match(%s %s) = %s, want %s", tc.method, tc.path, rt.ID, tc.want)
		}
	}
}

func TestMatchRootPrefixCatchesAll(t *testing.T) {
	r := New()
	r.Add(route("all", "/"))
	for _, p := range []string{"/", "/api", "/api/users"} {
		if rt, ok := r.Match("GET", p); !ok || rt.ID != "all" {
			t.Errorf("Match(GET %s) = %v, %v", p, rt, ok)
		}
	}
}

func TestMatchTrailingSlashPrefix(t *testing.T) {
	r := New()
	r.Add(route("api", "/api/", "GET"))
	if rt, ok := r.Match("GET", "/api/users"); !ok || rt.ID != "api" {
		t.Fatalf("Match = %v, %v", rt, ok)
	}
}

func TestMatchEmptyMethodSetMatchesAll(t *testing.T) {
	r := New()
	r.Add(route("any", "/x"))
	for _, m := range []string{"GET", "POST", "DELETE"} {
		if _, ok := r.Match(m, "/x/1"); !ok {
			t.Errorf("method %s not matched", m)
		}
	}
}

func TestRouteContextRoundTrip(t *testing.T) {
	rt := route("api", "/api", "GET")
	req := httptest.NewRequest("GET", "/api", nil)

	if _, ok := RouteFrom(req); ok {
		t.Fatal("route present before WithRoute")
	}
	req = WithRoute(req, rt)
	got, ok := RouteFrom(req)
	if !ok || got.ID != "api" {
		t.Fatalf("RouteFrom = %v, %v", got, ok)
	}
}
