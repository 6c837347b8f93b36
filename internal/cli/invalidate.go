package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	cache "blogplatform/internal"
	"blogplatform/internal/config"
	"blogplatform/internal/consumer"
	"blogplatform/internal/logging"
)

func newInvalidateCmd(opts *rootOptions) *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish a cache invalidation message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, config.BlogService, opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.Setup(cfg.Log, "invalidate")

			c, err := cache.NewClient(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Connect(cmd.Context()); err != nil {
				return err
			}

			id, err := consumer.NewPublisher(c.Redis(), cfg.Cache.Stream).InvalidateCache(cmd.Context(), keys...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&keys, "key", "k", []string{"blogs:*"}, "key pattern to invalidate (repeatable)")
	return cmd
}
