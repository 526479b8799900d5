package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harryneopotter/teacher-website-public/internal/app"
	"github.com/harryneopotter/teacher-website-public/internal/config"
)

func init() {
	selftestCmd := &cobra.Command{
		Use:   "selftest",
		Short: "Check the record store and both buckets, then upload a canary object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfTest(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(selftestCmd)
}

func runSelfTest(ctx context.Context, cfg *config.Config, out io.Writer) error {
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	orch, _, err := app.OpenStorage(cfg)
	if err != nil {
		return fmt.Errorf("open object storage: %w", err)
	}

	failed := 0
	for _, r := range app.SelfTest(ctx, store, orch) {
		if r.OK() {
			_, _ = fmt.Fprintf(out, "ok    %s\n", r.Name)
			continue
		}
		failed++
		_, _ = fmt.Fprintf(out, "FAIL  %s: %v\n", r.Name, r.Err)
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
