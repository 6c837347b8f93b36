package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cache "blogplatform/internal"
	"blogplatform/internal/config"
	"blogplatform/internal/consumer"
	"blogplatform/internal/handler"
	"blogplatform/internal/logging"
	"blogplatform/internal/repository"
	"blogplatform/internal/server"
	"blogplatform/internal/service"
	"blogplatform/internal/telemetry"
)

func newBlogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blog",
		Short: "Run the blog service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, config.BlogService, opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runBlog(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "", "port to listen on (overrides PORT)")
	return cmd
}

// 起動順: キャッシュコンシューマ開始 → Redis 接続 (非同期) → ルート登録 → 待ち受け
func runBlog(parent context.Context, cfg config.Config) error {
	logger := logging.Setup(cfg.Log, config.BlogService)
	ctx, stop := signalContext(parent)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Trace, "blog-service")
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()
	telemetry.StartProfiler(cfg.Pprotein)

	db, err := repository.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store := repository.NewStore(db)
	defer store.Close()

	cacheClient, err := cache.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	blogSvc := service.NewBlogService(store.BlogRepo, cacheClient, cfg.Cache.TTL, logger)

	cons := consumer.New(cacheClient, blogSvc, cfg.Cache, logger)
	cons.Start(ctx)

	go func() { _ = cacheClient.Connect(ctx) }()
	go cacheClient.ListenInvalidations(ctx)

	srv := server.NewServer("blog-service", cfg, logger,
		handler.NewBlogHandler(blogSvc, logger).Routes,
		handler.NewHealthHandler(config.BlogService, map[string]handler.Check{
			"cache":    cacheCheck(cacheClient),
			"database": store.Ping,
		}).Routes,
	)

	err = srv.Run(ctx)
	stop()
	cons.Wait()
	return err
}

func cacheCheck(c *cache.Client) handler.Check {
	return func(ctx context.Context) error {
		if !c.IsReady() {
			return cache.ErrNotReady
		}
		return c.Redis().Ping(ctx).Err()
	}
}
