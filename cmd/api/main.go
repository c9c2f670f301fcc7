// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
)

const (
	sessionMaxAge   = 12 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		base := logging.Base()
		base.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "pdf-squeeze-api"})
	logger := logging.WithComponent("api")

	comps, err := setupJobs(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up jobs")
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := newRouter(cfg, comps, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("mode", cfg.GinMode).
			Str("store", cfg.JobStore).
			Str("queue", cfg.QueueBackend).
			Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	_ = comps.shutdown(shutdownCtx, logger)
}

func newRouter(cfg *config.Config, comps *jobComponents, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(logging.WithComponent("http")))
	router.MaxMultipartMemory = 8 << 20

	// セッションストアの設定（直近のジョブIDを保持する）
	store := cookie.NewStore(sessionSecret(cfg, logger))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(pdf.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", logging.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id", logging.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pdf.NewHandlers(pdf.HandlerOptions{
		Jobs:     comps.manager,
		Uploads:  comps.files,
		Pages:    comps.inspector,
		Tool:     comps.ghostscript,
		MaxPages: cfg.MaxPages,
		Logger:   logging.WithComponent("handlers"),
	}).Register(router)

	return router
}

// sessionSecret は署名鍵を返します。未設定なら起動ごとのランダム鍵を使います（release では設定必須）。
func sessionSecret(cfg *config.Config, logger zerolog.Logger) []byte {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret)
	}
	logger.Warn().Msg("SESSION_SECRET is not set, using a random key for this process")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate session key")
	}
	return key
}
