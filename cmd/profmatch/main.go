// Command profmatch runs the professor-matching HTTP service: session and
// CV upload API, and the async discover → enrich → score pipeline behind it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/profmatch/connectivity"
	"github.com/hazyhaar/profmatch/cvparse"
	"github.com/hazyhaar/profmatch/dbopen"
	"github.com/hazyhaar/profmatch/httpapi"
	"github.com/hazyhaar/profmatch/match"
	"github.com/hazyhaar/profmatch/observability"
	"github.com/hazyhaar/profmatch/profcache"
	"github.com/hazyhaar/profmatch/score"
	"github.com/hazyhaar/profmatch/session"
	"github.com/hazyhaar/profmatch/sources"
)

func main() {
	port := env("PORT", "8080")
	dbPath := env("DB_PATH", "db/profmatch.db")
	routesFile := env("ROUTES_FILE", "")
	redisAddr := env("REDIS_ADDR", "")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	geminiModel := env("GEMINI_MODEL", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if geminiKey == "" {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Main DB: routes, job store, profile cache, event log.
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connectivity router with the local fallbacks always registered; the
	// routes table decides whether a remote (MCP/HTTP) handler shadows them.
	if err := connectivity.Init(db); err != nil {
		slog.Error("connectivity init", "error", err)
		os.Exit(1)
	}
	if routesFile != "" {
		if err := connectivity.SeedFromFile(ctx, db, routesFile); err != nil {
			slog.Error("seed routes", "file", routesFile, "error", err)
			os.Exit(1)
		}
	}

	router := connectivity.New(connectivity.WithLogger(logger))
	defer router.Close()
	router.RegisterTransport("mcp", connectivity.MCPFactory())
	router.RegisterTransport("http", connectivity.HTTPFactory())

	parser := cvparse.New(cvparse.WithLogger(logger))
	scrapeClient := &http.Client{Timeout: 30 * time.Second}
	router.RegisterLocal(sources.ServiceDiscover, sources.DiscoveryFallback(scrapeClient, logger))
	router.RegisterLocal(sources.ServiceCVParse, sources.DocumentFallback(parser, logger))

	if err := router.Reload(ctx, db); err != nil {
		slog.Error("route reload", "error", err)
		os.Exit(1)
	}
	go router.Watch(ctx, db, 30*time.Second)

	// Upstream calls get logging, a per-service breaker, a timeout, and panic
	// recovery. Discovery and enrichment are never retried: a failed candidate
	// is reported as a per-candidate failure, not re-fetched. Document parsing
	// is idempotent, so it keeps a short retry.
	caller := newResilientCaller(router, logger,
		sources.ServiceDiscover, sources.ServiceScholar, sources.ServiceCVParse)

	// Sessions: Redis when configured and reachable, in-memory otherwise.
	var sessions session.Store
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Warn("redis unreachable, using in-memory sessions", "addr", redisAddr, "error", err)
			client.Close()
		} else {
			sessions = session.NewRedisStore(client, session.WithRedisLogger(logger))
			defer client.Close()
		}
	}
	if sessions == nil {
		mem := session.NewMemoryStore(session.WithMemoryLogger(logger))
		go mem.Janitor(ctx, 10*time.Minute)
		sessions = mem
	}

	// Profile cache with its expiry reaper.
	cache, err := profcache.New(db, profcache.WithLogger(logger))
	if err != nil {
		slog.Error("profile cache", "error", err)
		os.Exit(1)
	}
	go cache.Reaper(ctx, time.Hour)

	// Job store; finished jobs older than a day get purged.
	jobs, err := match.NewJobStore(db, logger)
	if err != nil {
		slog.Error("job store", "error", err)
		os.Exit(1)
	}
	go jobs.Reaper(ctx, time.Hour, 24*time.Hour)

	// Lifecycle event log.
	recorder, err := observability.NewRecorder(db, observability.WithLogger(logger))
	if err != nil {
		slog.Error("event recorder", "error", err)
		os.Exit(1)
	}
	go recorder.Reaper(ctx, time.Hour, 7*24*time.Hour)

	// Scoring engine over Gemini.
	generator, err := score.NewGenerator(ctx, geminiKey, geminiModel)
	if err != nil {
		slog.Error("gemini client", "error", err)
		os.Exit(1)
	}
	engine := score.NewEngine(generator, score.WithEngineLogger(logger))

	// Data sources over the connectivity router.
	discovery := sources.NewDiscovery(caller, logger)
	scholar := sources.NewScholar(caller, logger)
	documents := sources.NewDocuments(caller, logger)

	orchestrator := match.New(jobs, sessions, cache, discovery, scholar, engine,
		match.WithLogger(logger),
		match.WithEvents(recorder))

	api := httpapi.New(sessions, documents, orchestrator,
		httpapi.WithLogger(logger),
		httpapi.WithInterestExtractor(engine))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("profmatch listening", "port", port, "model", generator.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

// resilientCaller wraps router calls in a per-service middleware stack:
// logging, circuit breaker, timeout, and panic recovery, with retry added
// only where the call is safe to repeat.
type resilientCaller struct {
	router *connectivity.Router
	stacks map[string]connectivity.HandlerMiddleware
}

func newResilientCaller(router *connectivity.Router, logger *slog.Logger, services ...string) *resilientCaller {
	c := &resilientCaller{
		router: router,
		stacks: make(map[string]connectivity.HandlerMiddleware, len(services)),
	}
	for _, svc := range services {
		breaker := connectivity.NewCircuitBreaker(svc, connectivity.WithBreakerLogger(logger))
		mws := []connectivity.HandlerMiddleware{
			connectivity.Logging(svc, logger),
			connectivity.WithCircuitBreaker(breaker),
		}
		if svc == sources.ServiceCVParse {
			mws = append(mws, connectivity.WithRetry(2, time.Second, logger))
		}
		mws = append(mws,
			connectivity.Timeout(60*time.Second),
			connectivity.Recovery(logger),
		)
		c.stacks[svc] = connectivity.Chain(mws...)
	}
	return c
}

func (c *resilientCaller) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	h := connectivity.Handler(func(ctx context.Context, p []byte) ([]byte, error) {
		return c.router.Call(ctx, service, p)
	})
	if stack, ok := c.stacks[service]; ok {
		h = stack(h)
	}
	return h(ctx, payload)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
