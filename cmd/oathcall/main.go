package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crms-dev/oathcall/internal/adapters/capture"
	"github.com/crms-dev/oathcall/internal/adapters/crms"
	"github.com/crms-dev/oathcall/internal/adapters/rtc"
	"github.com/crms-dev/oathcall/internal/adapters/view"
	"github.com/crms-dev/oathcall/internal/app"
	"github.com/crms-dev/oathcall/internal/app/engine"
	"github.com/crms-dev/oathcall/internal/app/presence"
	"github.com/crms-dev/oathcall/internal/app/reconcile"
	"github.com/crms-dev/oathcall/internal/config"
	"github.com/crms-dev/oathcall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	self, err := domain.NewParticipant(cfg.UserID, cfg.DisplayName, domain.Role(cfg.Role))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid participant config")
	}

	backend := crms.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.RequestTimeout)
	broker := crms.NewTokenBroker(cfg.BackendURL, cfg.BackendToken, cfg.RequestTimeout)

	device, err := capture.NewDevice()
	if err != nil {
		log.Fatal().Err(err).Msg("capture device unavailable")
	}
	provider := rtc.NewProvider(cfg.ProviderURL, device.ConfigureCodecs)

	eng := engine.New(broker, provider, device)
	rec := reconcile.New(backend, eng, self, cfg.PollInterval)
	hb := presence.NewHeartbeat(backend, cfg.HeartbeatInterval)
	agent := app.NewAgent(eng, rec, hb)

	r := view.SetupRouter(cfg.Mode, agent)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("role", cfg.Role).Msg("oathcall agent started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	agentDone := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(agentDone)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Agent.Run ends with engine teardown; wait so the capture device
	// is released before the process exits.
	<-agentDone
	log.Info().Msg("Agent exited gracefully")
}
