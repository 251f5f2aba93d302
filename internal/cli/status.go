package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/biomes-client/internal/loading/health"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the loading status of a running client",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "health server address (default localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	addr := statusAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := fetchStatus(ctx, "http://"+addr+"/health/detailed")
	if err != nil {
		slog.Error("Failed to query client", "addr", addr, "error", err)
		os.Exit(1)
	}

	printStatus(os.Stdout, report)
}

func fetchStatus(ctx context.Context, url string) (*health.HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var report health.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

func printStatus(out io.Writer, r *health.HealthReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tPHASE\tSTAGE\tATTEMPT\tUPDATED")

	stage, attempt := "-", "-"
	if r.Progress != nil {
		stage = fmt.Sprintf("%s (%d)", r.Progress.Stage, r.Progress.Rank)
		attempt = fmt.Sprintf("%d", r.Progress.Attempt)
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		r.SystemStatus, r.Phase, stage, attempt, r.UpdatedAt.Format(time.RFC3339))
	_ = w.Flush()

	if r.LastError != "" {
		_, _ = fmt.Fprintf(out, "\nlast error: %s\n", r.LastError)
	}

	if len(r.Dependencies) > 0 {
		names := make([]string, 0, len(r.Dependencies))
		for name := range r.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)

		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "DEPENDENCY\tSTATE")
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", name, r.Dependencies[name])
		}
		_ = w.Flush()
	}
}
