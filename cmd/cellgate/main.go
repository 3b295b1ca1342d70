package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlexKimmel/CellGate/internal/auth"
	"github.com/AlexKimmel/CellGate/internal/config"
	"github.com/AlexKimmel/CellGate/internal/gateway"
	"github.com/AlexKimmel/CellGate/internal/obs"
	"github.com/AlexKimmel/CellGate/internal/proxy"
	"github.com/AlexKimmel/CellGate/internal/ratelimit"
	"github.com/AlexKimmel/CellGate/internal/ratelimit/memory"
	redisstore "github.com/AlexKimmel/CellGate/internal/ratelimit/redis"
	"github.com/AlexKimmel/CellGate/internal/routing"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	instanceID := uuid.NewString()
	logger.Info().Str("instance_id", instanceID).Str("version", version).Msg("starting cellgate")

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	// routes (URLs were validated at load)
	router := routing.New()
	for _, rt := range cfg.Routes {
		u, err := url.Parse(rt.Upstream.URL)
		if err != nil {
			log.Fatalf("route %s: %v", rt.ID, err)
		}
		methods := make(map[string]struct{}, len(rt.Match.Methods))
		for _, m := range rt.Match.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		router.Add(&routing.Route{
			ID:      rt.ID,
			Methods: methods,
			Prefix:  rt.Match.PathPrefix,
			UpURL:   u,
			Timeout: time.Duration(rt.Upstream.TimeoutMS) * time.Millisecond,
		})
	}

	pairs := map[string]string{} // secret -> keyID
	for _, k := range cfg.Auth.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, pairs)

	// limiter: local pool, with shared Redis state in front when configured
	local := memory.New()
	var lim ratelimit.Limiter = local
	if cfg.Redis.Addr != "" {
		shared := redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL(),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := shared.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup, breaker will route to local fallback")
		}
		cancel()
		lim = ratelimit.NewFailover(shared, local, func(open bool) {
			if open {
				logger.Warn().Msg("limiter breaker open, falling back to local limiting")
				metrics.FallbackOpen.Set(1)
				return
			}
			logger.Info().Msg("limiter breaker closed, shared limiting restored")
			metrics.FallbackOpen.Set(0)
		})
	}

	// live policy table; config reloads and the admin endpoint swap it
	var table atomic.Pointer[ratelimit.Table]
	table.Store(cfg.Limits.Table())
	policies := func() *ratelimit.Table { return table.Load() }

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		"/admin/capacity":                {},
		"/admin/limits":                  {},
		"/admin/status":                  {},
		cfg.Observability.PrometheusPath: {},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"instance_id":"` + instanceID + `"}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	admin := &gateway.Admin{
		Limiter:  lim,
		Policies: policies,
		SetDefault: func(p ratelimit.Policy) error {
			cur := table.Load()
			table.Store(&ratelimit.Table{Default: p, Routes: cur.Routes, Keys: cur.Keys})
			logger.Info().
				Int("rate", p.Rate).Dur("period", p.Period).Int("burst", p.Burst).
				Msg("default limit replaced via admin")
			return nil
		},
		InstanceID: instanceID,
		StartedAt:  time.Now(),
	}
	admin.Register(mux)

	mux.Handle("/", proxy.Handler(proxy.NewHTTPTransport()))

	// metrics sit inside the route matcher so the route id is in context
	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		gateway.BodyLimit(cfg.Server.MaxBodyBytes),
		gateway.RouteMatcher(router, skip),
		metrics.Middleware(skip),
		authStore.Middleware(skip),
		gateway.RateLimit(lim, policies, skip, metrics.OnLimited, func(routeID string) {
			metrics.LimiterErrors.WithLabelValues(routeID).Inc()
		}),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout(),
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		err := config.Watch(watchCtx, *configPath, logger, func(c *config.Root, err error) {
			if err != nil {
				metrics.ConfigReloads.WithLabelValues("error").Inc()
				return
			}
			table.Store(c.Limits.Table())
			metrics.ConfigReloads.WithLabelValues("ok").Inc()
		})
		if err != nil {
			logger.Error().Err(err).Msg("config watcher stopped")
		}
	}()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopWatch()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := lim.Close(); err != nil {
		logger.Error().Err(err).Msg("limiter close failed")
	}
	logger.Info().Msg("bye")
}
