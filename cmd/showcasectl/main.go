// Command showcasectl holds operator tasks for the showcase deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/harryneopotter/teacher-website-public/internal/config"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

var (
	verboseFlag bool
	cfg         *config.Config
	rootCmd     = &cobra.Command{
		Use:           "showcasectl",
		Short:         "Operator tools for the showcase intake service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if verboseFlag {
				level = "debug"
			}
			logger.UseWriter(cmd.ErrOrStderr(), level)

			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log at debug level to stderr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
