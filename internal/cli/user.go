package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"blogplatform/internal/config"
	"blogplatform/internal/handler"
	"blogplatform/internal/logging"
	"blogplatform/internal/media"
	"blogplatform/internal/repository"
	"blogplatform/internal/server"
	"blogplatform/internal/telemetry"
)

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Run the user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, config.UserService, opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runUser(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "", "port to listen on (overrides PORT)")
	return cmd
}

// 起動順: メディア設定 → DB 接続 → ルート登録 → 待ち受け
func runUser(parent context.Context, cfg config.Config) error {
	logger := logging.Setup(cfg.Log, config.UserService)
	ctx, stop := signalContext(parent)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Trace, "user-service")
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()
	telemetry.StartProfiler(cfg.Pprotein)

	m, err := media.Configure(cfg.Media, logger)
	if err != nil {
		return err
	}

	db, err := repository.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Error("failed to connect database")
		return err
	}
	store := repository.NewStore(db)
	defer store.Close()
	logger.Info("Connected to database")

	checks := map[string]handler.Check{"database": store.Ping}
	if m.Enabled() {
		checks["media"] = m.Check
	}

	srv := server.NewServer("user-service", cfg, logger,
		handler.NewHealthHandler(config.UserService, checks).Routes,
	)
	return srv.Run(ctx)
}
