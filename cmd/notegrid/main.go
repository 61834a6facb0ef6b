package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	rootCmd.AddCommand(
		NewServeCommand(),
		NewLoginCommand(),
		NewLogoutCommand(),
		NewDeleteAccountCommand(),
		NewSyncCommand(),
		NewStatusCommand(),
		NewImportCommand(),
		NewExportCommand(),
		NewThemeCommand(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
