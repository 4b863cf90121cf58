/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld_calendar/internal/api"
	"github.com/friendsincode/skuld_calendar/internal/archive"
	"github.com/friendsincode/skuld_calendar/internal/cache"
	"github.com/friendsincode/skuld_calendar/internal/calstore"
	"github.com/friendsincode/skuld_calendar/internal/config"
	"github.com/friendsincode/skuld_calendar/internal/content"
	"github.com/friendsincode/skuld_calendar/internal/db"
	"github.com/friendsincode/skuld_calendar/internal/eventbus"
	"github.com/friendsincode/skuld_calendar/internal/events"
	"github.com/friendsincode/skuld_calendar/internal/health"
	"github.com/friendsincode/skuld_calendar/internal/leadership"
	"github.com/friendsincode/skuld_calendar/internal/logbuffer"
	"github.com/friendsincode/skuld_calendar/internal/orchestrator"
	"github.com/friendsincode/skuld_calendar/internal/scheduler"
	"github.com/friendsincode/skuld_calendar/internal/slots"
	"github.com/friendsincode/skuld_calendar/internal/storage"
	"github.com/friendsincode/skuld_calendar/internal/telemetry"
	"github.com/friendsincode/skuld_calendar/internal/webhooks"
)

// Server bundles the HTTP API and the background services around it.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db              *gorm.DB
	bus             eventbus.Bus
	cache           *cache.Cache
	logBuffer       *logbuffer.Buffer
	generator       *content.Generator
	store           calstore.Store
	orch            *orchestrator.Orchestrator
	scheduler       *scheduler.Service
	leaderScheduler *scheduler.LeaderAware
	checker         *health.Checker
	archiver        *archive.Service
	webhooks        *webhooks.Service
	api             *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("skuld-calendar-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the timeout for WebSocket upgrades; progress streams stay open as
	// long as the fill runs.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Header deadline protects against slowloris. WriteTimeout stays 0 so
		// websocket progress streams are not cut off; the middleware timeout
		// covers the regular routes.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.bus = eventbus.New(eventbus.Options{
		NATSURL:       s.cfg.NATSURL,
		RedisAddr:     s.cfg.RedisAddr,
		RedisPassword: s.cfg.RedisPassword,
		RedisDB:       s.cfg.RedisDB,
		InstanceID:    s.cfg.InstanceID,
	}, s.logger)
	s.DeferClose(func() error { return s.bus.Close() })

	// Redis entity cache for reducing database load. Optional: without an
	// address every read goes to the database.
	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	s.generator = content.NewGenerator(s.logger)
	if s.cfg.TemplatesPath != "" {
		templates, err := content.LoadTemplates(s.cfg.TemplatesPath)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", s.cfg.TemplatesPath).Msg("template load failed, using built-in fallback templates")
		} else {
			s.generator.SetTemplates(templates)
			s.logger.Info().Str("path", s.cfg.TemplatesPath).Msg("fallback templates loaded")
		}
	}

	var provider content.Provider
	if s.cfg.ProviderURL != "" {
		remote := content.NewRemoteProvider(content.RemoteConfig{
			URL:            s.cfg.ProviderURL,
			Token:          s.cfg.ProviderToken,
			RatePerMinute:  s.cfg.ProviderRatePerMinute,
			TimeoutBase:    s.cfg.ProviderTimeoutBase,
			TimeoutPerItem: s.cfg.ProviderTimeoutPerItem,
			TimeoutCap:     s.cfg.ProviderTimeoutCap,
		}, s.logger)
		provider = content.NewRetryingProvider(remote, s.cfg.ProviderBackoff, s.logger)
	} else {
		s.logger.Info().Msg("no content provider configured, fills use fallback templates")
	}
	resolver := content.NewResolver(content.NewCache(s.cfg.ContentCacheTTL), provider, s.generator, s.logger)

	switch s.cfg.StoreBackend {
	case config.StoreRemote:
		s.store = calstore.NewRemoteStore(s.cfg.StoreURL, s.cfg.StoreToken, s.logger)
		s.logger.Info().Str("url", s.cfg.StoreURL).Msg("using remote calendar store")
	default:
		s.store = calstore.NewLocalStore(database, s.logger)
	}

	slotsCfg := slots.DefaultConfig()
	slotsCfg.WindowStartHour = s.cfg.WorkingHoursStart
	slotsCfg.WindowEndHour = s.cfg.WorkingHoursEnd
	slotsCfg.BufferMinutes = s.cfg.BufferMinutes
	slotsCfg.StartJitterMinutes = s.cfg.StartJitterMinutes

	s.orch = orchestrator.New(database, resolver, s.store, s.bus, s.cache, orchestrator.Options{
		Slots:     slotsCfg,
		GroupSize: s.cfg.BatchGroupSize,
		Cooldown:  s.cfg.BatchCooldown,
		MaxEvents: s.cfg.MaxEventsPerRequest,
		OwnerTag:  s.cfg.OwnerTag,
	}, s.logger)

	s.scheduler = scheduler.NewService(database, s.orch, s.bus, s.cache, s.logger)

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.New(leadership.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.DeferClose(func() error { return s.leaderScheduler.Stop() })
		s.logger.Info().Str("instance_id", s.cfg.InstanceID).Msg("leader election enabled for scheduler")
	}

	s.checker = health.NewChecker(30*time.Second, s.bus, s.logger)
	if s.cfg.ProviderURL != "" {
		s.checker.Register("provider", providerProbe(s.cfg.ProviderURL))
	}
	if s.cfg.StoreBackend == config.StoreRemote {
		store, ownerTag := s.store, s.cfg.OwnerTag
		s.checker.Register("calendar_store", func(ctx context.Context) error {
			_, err := store.List(ctx, ownerTag)
			return err
		})
	}
	if s.cache != nil {
		s.checker.Register("redis", s.cache.Ping)
	}
	if s.cfg.NATSURL != "" {
		s.checker.Register("nats", s.bus.Ping)
	}

	if s.cfg.ArchiveEnabled() {
		objects, backend, err := s.buildObjectStore()
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
		s.archiver = archive.NewService(database, objects, backend, s.logger)
		s.logger.Info().Str("backend", backend).Msg("fill archiving enabled")
	}

	s.webhooks = webhooks.NewService(database, s.bus, s.cfg.WebhookURLs, s.cfg.WebhookSecret, s.logger)

	s.api = api.New(database, s.orch, s.store, s.scheduler, s.cache, s.bus, s.logBuffer, s.logger)

	return nil
}

// buildObjectStore picks the archive backend: S3 wins when a bucket is
// configured, otherwise the local directory serves.
func (s *Server) buildObjectStore() (storage.ObjectStore, string, error) {
	if s.cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			Endpoint:        s.cfg.S3Endpoint,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return nil, "", err
		}
		return store, "s3", nil
	}

	store, err := storage.NewLocalStore(s.cfg.ArchiveDir, s.logger)
	if err != nil {
		return nil, "", err
	}
	return store, "local", nil
}

// providerProbe reports the content provider reachable when it answers HTTP
// at all; the status code does not matter for liveness.
func providerProbe(url string) health.Probe {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Scheduler: leader-aware when configured, direct otherwise.
	if s.leaderScheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.leaderScheduler.Start(ctx)
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.scheduler.Run(ctx)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.checker.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.webhooks.Run(ctx)
	}()

	if s.archiver != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.archiver.Run(ctx, s.bus)
		}()
	}

	if s.cfg.TemplatesPath != "" {
		path := s.cfg.TemplatesPath
		err := s.generator.Watch(ctx, path, func() {
			s.bus.Publish(events.EventTemplatesReloaded, events.Payload{"path": path})
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("template watching unavailable")
		}
	}

	// Database pool metrics updater.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached views when change events arrive.
// With a NATS or Redis bridge this is what keeps one instance's cache in step
// with writes made by another.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	types := []events.EventType{
		events.EventFillRequestUpdated,
		events.EventCalendarChanged,
		events.EventScheduleUpdated,
		events.EventScheduleDeleted,
	}
	sub := s.bus.SubscribeMany(types...)
	defer s.bus.UnsubscribeMany(sub, types...)

	s.logger.Info().Msg("cache invalidation listener started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			eventType, _ := payload["event"].(string)
			switch events.EventType(eventType) {
			case events.EventFillRequestUpdated:
				if requestID, ok := payload["request_id"].(string); ok && requestID != "" {
					s.cache.InvalidateFill(ctx, requestID)
				} else {
					s.cache.InvalidateFillHistory(ctx)
				}
			case events.EventCalendarChanged:
				if tag, ok := payload["tag"].(string); ok && tag != "" {
					s.cache.InvalidateEventList(ctx, tag)
				}
			case events.EventScheduleUpdated, events.EventScheduleDeleted:
				s.cache.InvalidateScheduleList(ctx)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := s.checker.Snapshot()
		status := "ok"
		for _, st := range snapshot {
			if !st.Healthy {
				status = "degraded"
				break
			}
		}

		body := map[string]any{
			"status":        status,
			"collaborators": snapshot,
		}
		if s.leaderScheduler != nil {
			body["leader"] = s.leaderScheduler.IsLeader()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
