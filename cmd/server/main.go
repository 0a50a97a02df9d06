package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/lumora/hearthlink/internal/adapters/http"
	"github.com/lumora/hearthlink/internal/app"
	"github.com/lumora/hearthlink/internal/config"
	"github.com/lumora/hearthlink/internal/core"
	"github.com/lumora/hearthlink/internal/store"
	"github.com/lumora/hearthlink/internal/token"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var devices core.DeviceStore
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect postgres")
			os.Exit(1)
		}
		devices = pg
		log.Info().Msg("using postgres device store")
	} else {
		devices = store.NewMemory()
		log.Info().Msg("using in-memory device store")
	}

	var issuer core.TokenIssuer
	if lk, err := token.NewLiveKit(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL); err == nil {
		issuer = lk
	} else {
		log.Warn().Err(err).Msg("livekit issuer unavailable, using static tokens")
		issuer = token.Static{Token: "dev"}
	}

	clock := clockwork.NewRealClock()
	registry := app.NewPresenceRegistry(clock, cfg.Presence.TTL)
	bindings := app.NewBindingRegistry()
	hub := app.NewSignalingHub(ctx, registry, bindings, devices, issuer, app.QuorumPolicy{Quorum: 2}, cfg.LiveKit.RoomPrefix)

	r := router.SetupRouter(ctx, cfg, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Dur("presence_ttl", cfg.Presence.TTL).Msg("hearthlink hub started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
