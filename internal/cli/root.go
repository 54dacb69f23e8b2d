// Package cli is the docrag command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/config"
	"docrag/internal/metrics"
	"docrag/internal/service"
)

// app holds what every subcommand shares. The service is built on first use
// so that commands failing flag validation never touch the store.
type app struct {
	cfgPath  string
	logLevel string

	cfg      *config.AppConfig
	logger   *slog.Logger
	svc      *service.Service
	shutdown metrics.ShutdownFunc
}

// newRootCmd builds the docrag command with all subcommands attached.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "Ingest documents and answer questions about them",
		Long: `docrag indexes local documents (txt, md, docx, pdf) into a vector store and
answers questions with citations to the passages it retrieved.

Examples:
  # Index a folder of documents
  docrag ingest ./docs

  # Ask a question, streaming the answer
  docrag ask "What is the refund policy?"

  # Serve the HTTP API on :3001
  docrag serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to YAML config file (defaults to ./config.yaml, then ~/.config/docrag/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		newIngestCmd(a),
		newSearchCmd(a),
		newAskCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newTUICmd(a),
		newClearCmd(a),
		newStatsCmd(a),
	)
	return root
}

// Execute runs the command tree with ctx and reports any failure on stderr.
func Execute(ctx context.Context) error {
	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

func (a *app) load(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}
	var (
		cfg *config.AppConfig
		err error
	)
	if a.cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(a.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logger, err := newLogger(cmd.ErrOrStderr(), level)
	if err != nil {
		return err
	}
	shutdown, err := metrics.SetupTracing(cmd.Context(), cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}
	if cfg.Tracing.Endpoint != "" {
		logger.Info("exporting traces", "endpoint", cfg.Tracing.Endpoint, "service", cfg.Tracing.ServiceName)
	}
	a.cfg, a.logger, a.shutdown = cfg, logger, shutdown
	return nil
}

func (a *app) service(cmd *cobra.Command) (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	if err := a.load(cmd); err != nil {
		return nil, err
	}
	svc, err := service.New(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

func (a *app) close() error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
		a.svc = nil
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdown(ctx))
		a.shutdown = nil
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
