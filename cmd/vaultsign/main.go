package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vaultsign: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultsign",
		Short: "VaultSign operations and development CLI",
		Long: `VaultSign CLI runs operational tasks against the configured database and storage
(migrations, finalization, signing link reissue). The dev subcommands drive the
docker compose stack in docker-compose.yml.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newDevCmd(execRunner),
		newMigrateCmd(),
		newFinalizeCmd(),
		newTokenCmd(),
		newValidatePositionCmd(),
	)
	return cmd
}

