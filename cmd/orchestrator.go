package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/engine"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/idv"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/memstore"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/pgstore"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/redisreg"
	"github.com/hasanmaki/mkit-idv-next/internal/metrics"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
	"github.com/hasanmaki/mkit-idv-next/internal/otp"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRegistryDown = 2
)

func orchestratorCmd() *cobra.Command {
	var metricsPort int
	var command = &cobra.Command{
		Use:   "orchestrator",
		Short: "Start dedicated worker supervisor process",
		Run: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			os.Exit(runOrchestrator(metricsPort))
		},
	}
	command.Flags().IntVar(&metricsPort, "metrics-port", 9090, "Port for the /metrics endpoint, 0 disables it")
	return command
}

func runOrchestrator(metricsPort int) int {
	cfg, err := config.Parse()
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := redisreg.New(cfg.Redis)
	if err := registry.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("registry unreachable at startup")
		return exitRegistryDown
	}

	// Audit store: the provider stays authoritative, so a missing
	// database degrades to in-memory persistence instead of refusing
	// to run workers.
	var store ports.TransactionStore
	if pool, err := pgstore.NewPool(ctx, cfg.DB.URL); err == nil {
		pg := pgstore.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Warn().Err(err).Msg("migrate failed, using in-memory audit store")
			store = memstore.New()
		} else {
			store = pg
		}
	} else {
		log.Warn().Err(err).Msg("database unreachable, using in-memory audit store")
		store = memstore.New()
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	factory := idv.NewFactory(
		cfg.Orch.ProviderTimeout(),
		cfg.Orch.ProviderRetries,
		int64(cfg.Orch.MaxConcurrentCalls),
		int64(cfg.Orch.MaxConcurrentPerServer),
		collector,
	)
	provider := factory.Get(cfg.Orch.ProviderBaseURL)

	mailbox := otp.NewRedisMailbox(registry.Rdb)
	eng := engine.New(provider, store, mailbox, cfg.Orch.OtpTimeout())

	if metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	supervisor := orchestrator.NewSupervisor(registry, eng, collector, cfg.Orch)
	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("supervisor stopped with error")
	}
	log.Info().Msg("orchestrator stopped")
	return exitOK
}
