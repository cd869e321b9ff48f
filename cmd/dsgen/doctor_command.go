package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/troy12x/si-copilot/internal/database"
	"github.com/troy12x/si-copilot/internal/eventbus"
	"go.uber.org/zap"
)

type checkResult struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Status string `json:"status"`
}

func newDoctorCommand(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to Postgres, Redis and NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := root.loadSettings()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			results := []checkResult{
				check("postgres", settings.DatabaseURL, func() error { return pingPostgres(ctx, settings.DatabaseURL) }),
				check("redis", settings.RedisURL, func() error { return pingRedis(ctx, settings.RedisURL) }),
				check("nats", settings.NATSURL, func() error { return pingNATS(ctx, settings.NATSURL) }),
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Name, r.Target, r.Status})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Dependency", "Target", "Status"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall check timeout")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}

func check(name, target string, ping func() error) checkResult {
	if target == "" {
		return checkResult{Name: name, Status: "not configured"}
	}
	shown := redact(target)
	if err := ping(); err != nil {
		return checkResult{Name: name, Target: shown, Status: "unhealthy: " + err.Error()}
	}
	return checkResult{Name: name, Target: shown, Status: "healthy"}
}

// redact hides credentials in a connection URL
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Redacted()
}

func pingPostgres(ctx context.Context, dsn string) error {
	db, err := database.NewPostgres(ctx, dsn, 1)
	if err != nil {
		return err
	}
	defer db.Close()

	var one int
	if err := db.Pool().QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

func pingRedis(ctx context.Context, addr string) error {
	rdb, err := database.NewRedis(ctx, addr)
	if err != nil {
		return err
	}
	defer rdb.Close()
	return rdb.Ping(ctx)
}

func pingNATS(ctx context.Context, addr string) error {
	bus, err := eventbus.Connect(addr, zap.NewNop())
	if err != nil {
		return err
	}
	defer bus.Close()
	return bus.Ping(ctx)
}
