package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tanq16/pkgloader/internal/config"
	"github.com/tanq16/pkgloader/internal/output"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [IDENTIFIER]",
		Short: "Resolve a streaming identifier to its media URL",
		Long: `Resolve asks the naming service for the media URL behind an identifier
of the form streaming:/accountId/appName/fileName and prints it.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Default()
			overlayHTTP(cmd, &cfg)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := runResolve(ctx, cfg, args[0]); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}
	return cmd
}

func runResolve(ctx context.Context, cfg config.Config, identifier string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	resolved, err := newResolver(cfg).Lookup(ctx, identifier)
	if err != nil {
		return err
	}
	output.PrintSuccess(resolved.String())
	return nil
}
