package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/auth"
	"github.com/mohammad-safakhou/researcher/internal/index"
	"github.com/mohammad-safakhou/researcher/internal/llm"
	"github.com/mohammad-safakhou/researcher/internal/queue/streams"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/search"
	"github.com/mohammad-safakhou/researcher/internal/store"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
)

// Run wires every dependency and serves the API until the listener stops.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	origins := cfg.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		baseLogger.Printf("warn: migrations failed: %v", err)
	}

	ctx := context.Background()
	tele, _, _, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() { _ = tele.Shutdown(context.Background()) }()

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		return err
	}
	defer idx.Close()
	go rebuildIndex(ctx, st, idx, baseLogger)

	llmClient, err := llm.NewClient(cfg.LLM, nil)
	if err != nil {
		return err
	}
	generator := llm.NewGenerator(llmClient, cfg)

	providers := search.NewProviders(cfg.Search)
	if len(providers) == 0 {
		baseLogger.Printf("warn: no search providers configured; verticals will resolve empty")
	}
	enricher := search.NewEnricher(cfg.Search.Enrich, nil)
	executor := search.NewExecutor(providers, enricher, cfg.Search, nil)

	orch := research.NewOrchestrator(generator, executor, generator, generator, st, cfg.Research.CallTimeout, nil)

	secret, err := auth.LoadSecret(cfg)
	if err != nil {
		return err
	}
	secretMW := auth.Middleware(secret)

	api := e.Group("/api")
	authHandler := &AuthHandler{Store: st, Secret: secret, SignupGrant: cfg.Credits.SignupGrant}
	authHandler.Register(api.Group("/auth"))
	api.GET("/auth/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: c.Get("user_id").(string)})
	}, secretMW)

	protected := api.Group("", secretMW)
	(&ConversationsHandler{Store: st}).Register(protected.Group("/conversations"))
	(&CreditsHandler{Ledger: st}).Register(protected.Group("/credits"))
	(&SchedulesHandler{Store: st}).Register(protected.Group("/schedules"))
	rh := &ResearchHandler{
		Store:      st,
		Ledger:     st,
		Runner:     orch,
		Index:      idx,
		RunTimeout: cfg.Research.RunTimeout,
		Logger:     baseLogger,
	}
	rh.Register(protected)

	if cfg.Scheduler.Enabled {
		if !cfg.Storage.Redis.Configured() {
			baseLogger.Printf("scheduler disabled: redis not configured")
		} else {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
			}
			sched := &Scheduler{
				Store:     st,
				Rdb:       rdb,
				Publisher: streams.NewPublisher(rdb),
				Interval:  cfg.Scheduler.Interval,
				LockTTL:   cfg.Scheduler.LockTTL,
				Stop:      make(chan struct{}),
			}
			sched.Start()
		}
	}

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// rebuildIndex reindexes recent surfaces so a fresh or memory-only index
// still answers searches after a restart. Reindexing replaces documents,
// so running against an intact index is harmless.
func rebuildIndex(ctx context.Context, st *store.Store, idx *index.Index, logger *log.Logger) {
	recs, err := st.ListRecentSurfaces(ctx, 0)
	if err != nil {
		logger.Printf("warn: index rebuild listing failed: %v", err)
		return
	}
	indexed := 0
	for i := range recs {
		rec := &recs[i]
		if err := idx.IndexSurface(rec.ID, rec.UserID, rec.ConversationID, &rec.Surface); err != nil {
			logger.Printf("warn: reindex surface %s failed: %v", rec.ID, err)
			continue
		}
		indexed++
	}
	if indexed > 0 {
		logger.Printf("reindexed %d surfaces", indexed)
	}
}
