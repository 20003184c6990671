// Command server runs the relay: every text message a client sends is
// broadcast to all other connected clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/relaychat/internal/logging"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/telemetry"
)

const (
	serviceName = "relaychat"
	version     = "1.0.0"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEndpoint != "" {
		mp, err := telemetry.InitMeter(ctx, telemetry.MeterConfig{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Endpoint:       cfg.MetricsEndpoint,
			Insecure:       true,
			Interval:       15 * time.Second,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize metrics")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := mp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics shutdown failed")
			}
		}()
		log.Info().Str("endpoint", cfg.MetricsEndpoint).Msg("Exporting metrics")
	}

	log.Info().Str("version", version).Msg("Starting relay server")
	if err := server.New(cfg, log).Run(ctx); err != nil {
		log.Error().Err(err).Msg("Relay server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Relay server stopped")
}
