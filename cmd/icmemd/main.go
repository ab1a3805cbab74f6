// Package main implements the icmemd CLI for firm-scoped document indexing
// and retrieval operations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/config"
	"github.com/fyrsmithlabs/icmemd/internal/embeddings"
	"github.com/fyrsmithlabs/icmemd/internal/events"
	"github.com/fyrsmithlabs/icmemd/internal/logging"
	"github.com/fyrsmithlabs/icmemd/internal/reasoning"
	"github.com/fyrsmithlabs/icmemd/internal/tenant"
	"github.com/fyrsmithlabs/icmemd/internal/vectorindex"
)

var (
	// persistent flags
	configPath string
	firmID     string
	userID     string
	outputJSON bool

	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "icmemd",
	Short: "Institutional memory daemon for IC decision data",
	Long: `icmemd indexes a firm's deal documents and historical IC memos and
searches them with firm-scoped semantic retrieval. Every command operates
strictly within one firm's data.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.config/icmemd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&firmID, "firm-id", "", "Firm identifier (required)")
	rootCmd.PersistentFlags().StringVar(&userID, "user-id", "", "Acting user identifier")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

// runtimeDeps holds the wired services shared by subcommands.
type runtimeDeps struct {
	cfg      *config.Config
	logger   *zap.Logger
	provider embeddings.Provider
	index    vectorindex.Index
}

func (d *runtimeDeps) Close() {
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Warn("closing index", zap.Error(err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			d.logger.Warn("closing embedding provider", zap.Error(err))
		}
	}
	_ = d.logger.Sync()
}

// initDeps wires config, logging, the embedding provider, and the vector
// index.
func initDeps() (*runtimeDeps, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing embedding provider: %w", err)
	}

	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{
		Path:       cfg.Index.Path,
		Compress:   cfg.Index.Compress,
		VectorSize: cfg.Index.VectorSize,
	}, provider, logger)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("initializing index: %w", err)
	}

	return &runtimeDeps{cfg: cfg, logger: logger, provider: provider, index: index}, nil
}

// newReasoningClient builds the configured LLM client, or nil when the
// reasoning provider is "none".
func newReasoningClient(cfg *config.Config) (reasoning.Client, error) {
	if cfg.Reasoning.Provider == "none" {
		return nil, nil
	}
	client, err := reasoning.NewClient(reasoning.Config{
		Provider:          cfg.Reasoning.Provider,
		Model:             cfg.Reasoning.Model,
		Token:             cfg.Reasoning.Token,
		RequestsPerSecond: cfg.Reasoning.RequestsPerSecond,
		MaxRetries:        cfg.Reasoning.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing reasoning client: %w", err)
	}
	return client, nil
}

// newPublisher connects to NATS when configured, and is a no-op otherwise.
func newPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		return events.NopPublisher{}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing event publisher: %w", err)
	}
	return pub, nil
}

// expandPath resolves a leading ~ against the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home + path[1:], nil
	}
	return path, nil
}

// firmContext builds the firm-scoped context every operation requires.
func firmContext() (context.Context, error) {
	if firmID == "" {
		return nil, fmt.Errorf("--firm-id is required")
	}
	firm := &tenant.FirmInfo{FirmID: firmID, UserID: userID}
	if err := firm.Validate(); err != nil {
		return nil, err
	}
	return tenant.ContextWithFirm(context.Background(), firm), nil
}
