package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hasanmaki/mkit-idv-next/internal/api"
	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/pgstore"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/redisreg"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
	"github.com/hasanmaki/mkit-idv-next/internal/otp"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start control-plane API server",
		Run: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()
			ctx := context.Background()

			registry := redisreg.New(cfg.Redis)
			if err := registry.Ping(ctx); err != nil {
				log.Fatal().Err(err).Msg("registry unreachable")
			}

			pool, err := pgstore.NewPool(ctx, cfg.DB.URL)
			if err != nil {
				log.Fatal().Err(err).Msg("database unreachable")
			}
			store := pgstore.New(pool)
			if err := store.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("migrate failed")
			}

			mailbox := otp.NewRedisMailbox(registry.Rdb)
			control := orchestrator.NewControl(registry)

			server := api.NewServer(control, mailbox, store, registry, cfg.Orch)
			server.Run(port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
