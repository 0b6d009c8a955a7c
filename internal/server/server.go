// Package server exposes the HTTP API: auth, channel management, transcript
// ingestion and retrieval-augmented chat.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/auth"
	"github.com/tubewise/tubewise/internal/chat"
	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/lexical"
	"github.com/tubewise/tubewise/internal/provider/openai"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

// newEcho builds the echo instance with recovery, CORS, the unified JSON
// error handler and the operational endpoints.
func newEcho(cfg config.ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

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
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	return e
}

// Run wires every dependency and serves the API until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := newEcho(cfg.Server)
	ctx := context.Background()

	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("[MIGRATE] %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Databases.Redis.Addr(),
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
		}
	}

	if err := cfg.Providers.OpenAI.Validate(); err != nil {
		return err
	}
	llm, err := openai.New(cfg.Providers.OpenAI)
	if err != nil {
		return err
	}
	source := youtube.NewClient(cfg.YouTube)
	catalog := lexical.NewCatalog()

	pipeline, err := ingest.New(st, source, llm, cfg.Providers.OpenAI, cfg.Ingest, nil)
	if err != nil {
		return err
	}
	pipeline.AttachCatalog(catalog)
	if err := warmCatalog(ctx, st, catalog); err != nil {
		log.Printf("[LEXICAL] warm-up failed: %v", err)
	}

	chatSvc, err := chat.New(st, llm, cfg.Providers.OpenAI, cfg.Chat, nil)
	if err != nil {
		return err
	}

	secret, err := auth.LoadSecret(cfg)
	if err != nil {
		return err
	}

	jobs := NewJobTracker(rdb, cfg.Ingest.LockTTL)

	api := e.Group("/api")
	(&AuthHandler{Store: st, Secret: secret}).Register(api.Group("/auth"))

	protected := api.Group("/channels")
	protected.Use(auth.Middleware(secret))
	(&ChannelsHandler{Store: st, Source: source, Catalog: catalog, MaxVideos: cfg.YouTube.MaxVideos}).Register(protected)
	(&IngestHandler{Store: st, Source: source, Pipeline: pipeline, Jobs: jobs, MaxVideos: cfg.YouTube.MaxVideos}).Register(protected)
	(&ChatHandler{Store: st, Chat: chatSvc, Catalog: catalog}).Register(protected)

	jobsGroup := api.Group("/jobs")
	jobsGroup.Use(auth.Middleware(secret))
	jobsGroup.GET("/:id", func(c echo.Context) error {
		status, ok := jobs.Get(c.Request().Context(), c.Param("id"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return c.JSON(http.StatusOK, status)
	})

	sched := &Scheduler{
		Store:    st,
		Source:   source,
		Pipeline: pipeline,
		Jobs:     jobs,
		Tick:     cfg.Ingest.SchedulerTick,
		Stop:     make(chan struct{}),
	}
	sched.Start()
	defer close(sched.Stop)

	if addr == "" {
		addr = cfg.General.Listen
		if addr == "" {
			addr = ":8000"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// warmCatalog rebuilds the in-memory lexical indexes from stored transcripts.
func warmCatalog(ctx context.Context, st *store.Store, catalog *lexical.Catalog) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	channels, err := st.ListChannels(ctx)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		videos, err := st.ListIngestedVideos(ctx, ch.ID)
		if err != nil {
			return err
		}
		for _, v := range videos {
			if v.Transcript == "" {
				continue
			}
			doc := lexical.Document{VideoID: v.VideoID, Title: v.Title, URL: v.URL, Text: v.Transcript}
			if err := catalog.IndexVideo(ch.ID, doc); err != nil {
				return err
			}
		}
	}
	return nil
}
