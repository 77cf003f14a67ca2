package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"scriptstudio/internal/access"
	"scriptstudio/internal/gate"
	"scriptstudio/internal/session"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/storage"
	"scriptstudio/services/studio/internal/app"
	"scriptstudio/services/studio/internal/config"
	"scriptstudio/services/studio/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := access.ResolveSettings(nil)
	if err != nil {
		log.Fatalf("failed to resolve access settings: %v", err)
	}
	jwtLeeway, _ := config.ParseDuration(cfg.JWTLeeway)
	verifier, err := access.NewVerifier(access.Config{
		Settings:   settings,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init access verifier: %v", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var codec *session.Codec
	if cfg.SessionSecret != "" {
		codec, err = session.NewCodec(cfg.SessionSecret)
		if err != nil {
			log.Fatalf("failed to init session codec: %v", err)
		}
	} else {
		logger.Warn("SESSION_SECRET not set; session cookies disabled")
	}
	gateCfg := gate.Config{
		Verifier:       verifier,
		DevBypass:      access.NewDevBypass(cfg.DevAuthSecret, cfg.Development()),
		LoginURL:       settings.LoginURL,
		Development:    cfg.Development(),
		TrustedProxies: proxies,
	}
	if codec != nil {
		gateCfg.Sessions = codec
	}
	accessGate := gate.New(gateCfg)

	dataStore, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer closeStore()

	resultCache, err := buildCache(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init cache: %v", err)
	}

	objects, err := storage.New(ctx, storage.Config{
		Driver:    cfg.ObjectDriver,
		Endpoint:  cfg.ObjectEndpoint,
		Region:    cfg.ObjectRegion,
		AccessKey: cfg.ObjectAccessKey,
		SecretKey: cfg.ObjectSecretKey,
		Bucket:    cfg.ObjectBucket,
		UseSSL:    cfg.ObjectUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		log.Fatalf("failed to init providers: %v", err)
	}

	publisher, err := buildEvents(cfg)
	if err != nil {
		log.Fatalf("failed to init job events: %v", err)
	}
	defer func() { _ = publisher.Close() }()

	cacheTTL, _ := config.ParseDuration(cfg.CacheTTL)
	presignTTL, _ := config.ParseDuration(cfg.PresignTTL)
	appCore, err := app.New(app.Config{
		Store:      dataStore,
		Cache:      resultCache,
		Objects:    objects,
		Scripts:    providers.scripts,
		Speech:     providers.speech,
		Images:     providers.images,
		Events:     publisher,
		CacheTTL:   cacheTTL,
		PresignTTL: presignTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Gate:           accessGate,
		Sessions:       codec,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("studio server listening", "addr", addr, "development", cfg.Development())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
