package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/biomes-client/internal/control"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the server session of the configured account",
	Run:   runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app, err := control.New(ctx, *cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	if err := app.Logout(ctx); err != nil {
		slog.Error("Logout failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Logged out")
}
