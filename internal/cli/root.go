package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "blogplatform",
		Short:         "Blog and user services with a Redis-backed cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "path to a .env file (default ./.env)")

	cmd.AddCommand(
		newBlogCmd(opts),
		newUserCmd(opts),
		newInvalidateCmd(opts),
	)
	return cmd
}

// signalContext は SIGINT/SIGTERM でキャンセルされる ctx を返す
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
