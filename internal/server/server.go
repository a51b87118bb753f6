// Package server assembles the public and admin HTTP servers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xReLogic/recettes/internal/adminapi"
	"github.com/0xReLogic/recettes/internal/api"
	"github.com/0xReLogic/recettes/internal/circuitbreaker"
	"github.com/0xReLogic/recettes/internal/config"
	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/mealdb"
	"github.com/0xReLogic/recettes/internal/metrics"
	"github.com/0xReLogic/recettes/internal/plugins"
	"github.com/0xReLogic/recettes/internal/proxy"
	"github.com/0xReLogic/recettes/internal/ratelimiter"
	"github.com/0xReLogic/recettes/internal/utils"
	"github.com/0xReLogic/recettes/internal/web"
)

const limiterCleanupInterval = 5 * time.Minute

// Server is the assembled application
type Server struct {
	cfg     *config.Config
	client  *mealdb.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Collector
	limiter *ratelimiter.ClientRateLimiter
	handler http.Handler
	admin   http.Handler
}

// NewClient builds the recipe API client described by cfg. The breaker is
// nil when disabled; mc may be nil.
func NewClient(cfg *config.Config, mc *metrics.Collector) (*mealdb.Client, *circuitbreaker.CircuitBreaker, error) {
	opts := []mealdb.Option{
		mealdb.WithTimeout(time.Duration(cfg.MealDB.TimeoutMs) * time.Millisecond),
		mealdb.WithFanOut(cfg.MealDB.FanOut, cfg.MealDB.MaxConcurrency),
	}

	var cb *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreaker.Enabled {
		cb = circuitbreaker.New(circuitbreaker.Settings{
			Name:             "mealdb",
			MaxHalfOpen:      uint32(cfg.CircuitBreaker.MaxHalfOpen),
			Timeout:          time.Duration(cfg.CircuitBreaker.TimeoutMs) * time.Millisecond,
			FailureThreshold: uint32(cfg.CircuitBreaker.FailureThreshold),
			SuccessThreshold: uint32(cfg.CircuitBreaker.SuccessThreshold),
			IsFailure:        mealdb.IsBreakerFailure,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logging.L().Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
				mc.SetBreakerState(name, int(to))
			},
		})
		mc.SetBreakerState(cb.Name(), int(circuitbreaker.StateClosed))
		opts = append(opts, mealdb.WithBreaker(cb))
	}
	if mc != nil {
		opts = append(opts, mealdb.WithObserver(mc))
	}

	client, err := mealdb.New(cfg.MealDB.BaseURL, opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, cb, nil
}

// New wires every component described by cfg
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewCollector()
	}

	client, cb, err := NewClient(cfg, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe client: %w", err)
	}
	s.client = client
	s.breaker = cb

	passthrough, err := proxy.NewReverseProxy(cfg.MealDB.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create passthrough: %w", err)
	}

	ips, err := utils.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", web.Handler(web.Dir(cfg.Server.StaticDir)))
	mux.Handle(proxy.Prefix, passthrough)
	api.NewHandler(client).Register(mux)

	var routed http.Handler = mux
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimiter.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		limited := ratelimiter.Middleware(s.limiter, s.metrics, ips)(mux)
		routed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, proxy.Prefix) {
				limited.ServeHTTP(w, r)
				return
			}
			mux.ServeHTTP(w, r)
		})
	}

	handler, err := plugins.BuildChain(cfg.Plugins, routed)
	if err != nil {
		return nil, fmt.Errorf("failed to build plugin chain: %w", err)
	}
	if cfg.Plugins.Enabled && len(cfg.Plugins.Chain) > 0 {
		names := make([]string, 0, len(cfg.Plugins.Chain))
		for _, p := range cfg.Plugins.Chain {
			names = append(names, p.Name)
		}
		logging.L().Info().Strs("plugins", names).Msg("plugins enabled")
	}
	handler = s.metrics.Middleware(handler)
	s.handler = logging.RequestContextMiddleware(cfg.Logging)(handler)

	if cfg.AdminAPI.Enabled {
		metricsPath := cfg.Metrics.Path
		s.admin, err = adminapi.NewMux(adminapi.Options{
			Token:          cfg.AdminAPI.AuthToken,
			AllowList:      cfg.AdminAPI.AllowList,
			DenyList:       cfg.AdminAPI.DenyList,
			TrustedProxies: cfg.Server.TrustedProxies,
			Metrics:        s.metrics,
			MetricsPath:    metricsPath,
			Breaker:        cb,
			UpstreamURL:    client.BaseURL().String(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create admin api: %w", err)
		}
	}
	return s, nil
}

// Handler returns the public handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// AdminHandler returns the admin handler, nil when disabled
func (s *Server) AdminHandler() http.Handler {
	return s.admin
}

// Client returns the shared recipe API client
func (s *Server) Client() *mealdb.Client {
	return s.client
}

// Run listens on the configured port, moving to the next port while it is
// in use, and serves until ctx is done. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := Listen(ctx, s.cfg.Server.Host, s.cfg.Server.Port, s.cfg.Server.MaxPortAttempts)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the public handler on ln, plus the admin server when enabled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := logging.L()
	timeouts := s.cfg.Server.Timeouts
	public := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  time.Duration(timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(timeouts.Idle) * time.Second,
	}

	port := ln.Addr().(*net.TCPAddr).Port
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("url", "http://localhost:"+strconv.Itoa(port)).
		Str("upstream", s.client.BaseURL().String()).
		Msg("recettes server listening")
	logger.Info().
		Dur("read_timeout", public.ReadTimeout).
		Dur("write_timeout", public.WriteTimeout).
		Dur("idle_timeout", public.IdleTimeout).
		Msg("server timeouts configured")

	servers := []*http.Server{public}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := public.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("public server: %w", err)
		}
		return nil
	})

	if s.admin != nil {
		adminSrv := &http.Server{
			Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.AdminAPI.Port)),
			Handler:      s.admin,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		servers = append(servers, adminSrv)
		g.Go(func() error {
			logger.Info().Str("addr", adminSrv.Addr).Msg("admin api server starting")
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// the admin port is auxiliary; the public server keeps running
				logger.Error().Err(err).Msg("admin api server error")
			}
			return nil
		})
	}

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(gctx, limiterCleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(servers)
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown(servers []*http.Server) {
	logger := logging.L()
	timeout := time.Duration(s.cfg.Server.Timeouts.Shutdown) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info().Dur("timeout", timeout).Msg("shutting down server gracefully")
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error during server shutdown")
			if closeErr := srv.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("error closing server")
			}
		}
	}
	logger.Info().Msg("server shutdown complete")
}
