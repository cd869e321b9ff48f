package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/troy12x/si-copilot/internal/config"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/orchestrator"
	"github.com/troy12x/si-copilot/internal/provider"
	"go.uber.org/zap"
)

type generateOptions struct {
	configFile  string
	server      string
	token       string
	out         string
	name        string
	description string
}

func newGenerateCommand(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a dataset from a JSON dataset config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "Dataset config JSON file")
	cmd.Flags().StringVar(&opts.server, "server", "", "Generate through this API server instead of calling providers directly")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("DSGEN_TOKEN"), "Bearer token for --server")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the result here instead of stdout")
	cmd.Flags().StringVar(&opts.name, "name", "", "Dataset name")
	cmd.Flags().StringVar(&opts.description, "description", "", "Dataset description")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func readDatasetConfig(path string) (models.DatasetConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.DatasetConfig{}, fmt.Errorf("read dataset config: %w", err)
	}
	var cfg models.DatasetConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.DatasetConfig{}, fmt.Errorf("parse dataset config %s: %w", path, err)
	}
	cfg, err = generation.Prepare(cfg)
	if err != nil {
		return models.DatasetConfig{}, err
	}
	if cfg.NumSamples <= 0 {
		return models.DatasetConfig{}, errors.New("numSamples must be positive")
	}
	return cfg, nil
}

// newGenerator returns the remote generator when a server is given, or the
// in-process service over the configured providers
func newGenerator(settings *config.Config, opts *generateOptions, logger *zap.Logger) orchestrator.Generator {
	if opts.server != "" {
		return orchestrator.NewRemoteGenerator(opts.server, opts.token, settings.UpstreamTimeout)
	}
	breakers := middleware.NewBreakers(nil)
	registry := provider.NewRegistry(
		provider.NewTogetherAI(provider.Config{
			APIKey:  settings.TogetherAIAPIKey,
			BaseURL: settings.TogetherAIBaseURL,
			Timeout: settings.UpstreamTimeout,
			Breaker: breakers.For(provider.TogetherAI),
		}),
		provider.NewVeniceAI(provider.Config{
			APIKey:  settings.VeniceAIAPIKey,
			BaseURL: settings.VeniceAIBaseURL,
			Timeout: settings.UpstreamTimeout,
			Breaker: breakers.For(provider.VeniceAI),
		}),
	)
	return generation.NewService(registry, nil, logger)
}

func runGenerate(cmd *cobra.Command, root *rootOptions, opts *generateOptions) error {
	settings, err := root.loadSettings()
	if err != nil {
		return err
	}
	dsCfg, err := readDatasetConfig(opts.configFile)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if root.verbose {
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.OutputPaths = []string{"stderr"}
		if logger, err = zapConfig.Build(); err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync()
	}

	orch := orchestrator.New(newGenerator(settings, opts, logger),
		orchestrator.WithOptions(orchestrator.Options{
			SmallThreshold:   settings.SmallThreshold,
			BatchSize:        settings.BatchSize,
			MaxRetries:       settings.MaxRetries,
			InitialBackoff:   settings.InitialBackoff,
			BatchDelay:       settings.BatchDelay,
			SplitConcurrency: settings.SplitConcurrency,
		}),
		orchestrator.WithLogger(logger),
	)

	progress := newSplitProgress(cmd.ErrOrStderr())
	res, runErr := orch.Run(cmd.Context(), orchestrator.Request{
		Config:      dsCfg,
		Name:        opts.name,
		Description: opts.description,
		OnProgress:  progress.Update,
	})
	progress.Finish()
	if res == nil {
		return runErr
	}

	fmt.Fprintln(cmd.ErrOrStderr(), renderSummary(res, splitOrder(dsCfg, res.Dataset)))

	if err := writeResult(cmd.OutOrStdout(), opts.out, res); err != nil {
		return err
	}
	// a cancelled run still writes what it merged
	return runErr
}

func writeResult(stdout io.Writer, path string, res *orchestrator.Result) error {
	if path == "" {
		return writeJSON(stdout, res)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeJSON(f, res); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}

func splitOrder(cfg models.DatasetConfig, ds models.Dataset) []string {
	names := make([]string, 0, len(ds))
	seen := make(map[string]bool, len(ds))
	for _, s := range cfg.Splits {
		if _, ok := ds[s.Name]; ok && !seen[s.Name] {
			names = append(names, s.Name)
			seen[s.Name] = true
		}
	}
	rest := make([]string, 0)
	for name := range ds {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
