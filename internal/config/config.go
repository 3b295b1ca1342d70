package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/CellGate/internal/ratelimit"
)

type Server struct {
	Addr              string `yaml:"addr" default:":8080"`
	ReadTimeoutMS     int    `yaml:"read_timeout_ms" default:"5000"`
	WriteTimeoutMS    int    `yaml:"write_timeout_ms" default:"10000"`
	IdleTimeoutMS     int    `yaml:"idle_timeout_ms" default:"60000"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms" default:"10000"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes" default:"10485760"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level" default:"info"`
	PrometheusPath string `yaml:"prometheus_path" default:"/metrics"`
}

// Limit is one (rate, period, burst) triple. burst 0 defaults to rate.
type Limit struct {
	Rate     int `yaml:"rate"`
	PeriodMS int `yaml:"period_ms"`
	Burst    int `yaml:"burst"`
}

func (l Limit) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Rate:   l.Rate,
		Period: time.Duration(l.PeriodMS) * time.Millisecond,
		Burst:  l.Burst,
	}
}

type Limits struct {
	Default Limit `yaml:"default"`
	// overrides keyed by route id, then by API key id within a route
	Routes map[string]Limit            `yaml:"routes"`
	Keys   map[string]map[string]Limit `yaml:"keys"`
}

// Table builds the runtime policy table from the configured limits.
func (l Limits) Table() *ratelimit.Table {
	t := &ratelimit.Table{Default: l.Default.Policy()}
	if len(l.Routes) > 0 {
		t.Routes = make(map[string]ratelimit.Policy, len(l.Routes))
		for id, lim := range l.Routes {
			t.Routes[id] = lim.Policy()
		}
	}
	if len(l.Keys) > 0 {
		t.Keys = make(map[string]map[string]ratelimit.Policy, len(l.Keys))
		for id, byKey := range l.Keys {
			m := make(map[string]ratelimit.Policy, len(byKey))
			for key, lim := range byKey {
				m[key] = lim.Policy()
			}
			t.Keys[id] = m
		}
	}
	return t
}

type APIKey struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

type Auth struct {
	Header string   `yaml:"header" default:"X-API-Key"`
	Keys   []APIKey `yaml:"keys"`
}

// Redis enables shared per-subject state when addr is set; empty addr keeps
// limiting purely in process memory.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLMS    int    `yaml:"ttl_ms" default:"3600000"`
}

type Route struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`
	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms" default:"3000"`
	} `yaml:"upstream"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Redis         Redis         `yaml:"redis"`
	Routes        []Route       `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMS) * time.Millisecond
}

func (r Redis) TTL() time.Duration {
	return time.Duration(r.TTLMS) * time.Millisecond
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	if cfg.Limits.Default.Rate == 0 {
		cfg.Limits.Default = Limit{Rate: 60, PeriodMS: 60_000, Burst: 60}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate fails fast on limit triples and routes the server could not run
// with; every limit goes through the core's configuration rules.
func (cfg *Root) validate() error {
	if err := cfg.Limits.Default.Policy().Validate(); err != nil {
		return fmt.Errorf("limits.default: %w", err)
	}
	for id, lim := range cfg.Limits.Routes {
		if err := lim.Policy().Validate(); err != nil {
			return fmt.Errorf("limits.routes.%s: %w", id, err)
		}
	}
	for id, byKey := range cfg.Limits.Keys {
		for key, lim := range byKey {
			if err := lim.Policy().Validate(); err != nil {
				return fmt.Errorf("limits.keys.%s.%s: %w", id, key, err)
			}
		}
	}
	seen := make(map[string]struct{}, len(cfg.Routes))
	for i, rt := range cfg.Routes {
		if rt.ID == "" {
			return fmt.Errorf("routes[%d]: id is required", i)
		}
		if _, dup := seen[rt.ID]; dup {
			return fmt.Errorf("routes[%d]: duplicate id %q", i, rt.ID)
		}
		seen[rt.ID] = struct{}{}
		if rt.Match.PathPrefix == "" {
			return fmt.Errorf("route %s: match.path_prefix is required", rt.ID)
		}
		u, err := url.Parse(rt.Upstream.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("route %s: upstream.url %q is not an absolute URL", rt.ID, rt.Upstream.URL)
		}
	}
	return nil
}
