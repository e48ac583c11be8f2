// Command backend runs the violation store and review service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"traffic-violation/internal/auth"
	"traffic-violation/internal/challan"
	"traffic-violation/internal/config"
	"traffic-violation/internal/db"
	"traffic-violation/internal/evidence"
	vhttp "traffic-violation/internal/http"
	"traffic-violation/internal/service"
	"traffic-violation/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var violationStore store.Store
	if cfg.Database.DSN != "" {
		gdb, err := db.Connect(cfg.Database.DSN, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		violationStore = store.NewGormStore(gdb)
		log.Info().Msg("using postgres violation store")
	} else {
		violationStore = store.NewMemoryStore()
		log.Warn().Msg("no database configured, using in-memory violation store")
	}

	evidenceStore, err := evidence.NewFileStore(cfg.Evidence.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise evidence store")
	}

	var trigger challan.Trigger = challan.Noop{}
	if cfg.Challan.WebhookURL != "" {
		trigger, err = challan.NewWebhook(cfg.Challan.WebhookURL, cfg.Challan.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise challan webhook")
		}
		log.Info().Str("url", cfg.Challan.WebhookURL).Msg("challan webhook enabled")
	}

	violationService := service.NewViolationService(violationStore, evidenceStore, trigger, log)
	authManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if !authManager.Enabled() {
		log.Warn().Msg("dashboard auth disabled (no jwt secret configured)")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}))

	handler := vhttp.NewHandler(violationService, log)
	handler.Register(r, authManager.Middleware())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
