package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"communityforum/internal/metrics"
	"communityforum/internal/util"
	"communityforum/pkg/store"
	"communityforum/services/gateway/internal/authclient"
	"communityforum/services/gateway/internal/config"
	"communityforum/services/gateway/internal/forumclient"
	"communityforum/services/gateway/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var revoker store.TokenRevoker
	if cfg.RedisAddr != "" {
		revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		revoker = store.NewMemoryTokenRevoker()
	}
	sessions, err := store.NewJWTSessionStoreWithOptions(cfg.SessionSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init session verifier: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("gateway", registry)

	httpServer, err := server.New(server.Config{
		Auth:                     authclient.NewClient(cfg.AuthServiceURL),
		Forum:                    forumclient.NewClient(cfg.ForumServiceURL),
		Sessions:                 sessions,
		SessionCookieName:        cfg.SessionCookieName,
		SessionCookieSecure:      cfg.SessionCookieSecure,
		SessionTTL:               sessionTTL,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		WriteRateLimitPerMinute:  cfg.WriteRateLimitPerMinute,
		TrustedProxies:           trustedProxies,
		Metrics:                  collector,
		Gatherer:                 registry,
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

	slog.Info("gateway listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
