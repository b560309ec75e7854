// Package cmd implements the vector-index-mcp command-line interface: a
// single positional project path, flags mirroring the environment variable
// table, and a process that runs until signalled, then shuts down cleanly.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vector-index-mcp/vector-index-mcp/internal/config"
	"github.com/vector-index-mcp/vector-index-mcp/internal/facade"
	"github.com/vector-index-mcp/vector-index-mcp/internal/lifecycle"
	"github.com/vector-index-mcp/vector-index-mcp/internal/logging"
	"github.com/vector-index-mcp/vector-index-mcp/internal/transport/httpapi"
	"github.com/vector-index-mcp/vector-index-mcp/internal/transport/mcpstdio"
	"github.com/vector-index-mcp/vector-index-mcp/pkg/version"
)

const httpShutdownGrace = 5 * time.Second
const serviceShutdownGrace = 30 * time.Second

// ExitError carries the process exit code a failure should produce: 2 for a
// malformed invocation, 1 for everything that fails after that.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func usageError(format string, args ...any) error {
	return &ExitError{Code: 2, Err: fmt.Errorf(format, args...)}
}

func startupError(err error) error {
	return &ExitError{Code: 1, Err: err}
}

var (
	flagLanceDBURI     string
	flagEmbeddingModel string
	flagIgnore         []string
	flagLogLevel       string
	flagHost           string
	flagPort           int
	flagTransport      string
	debugMode          bool
	loggingCleanup     func()
)

// NewRootCmd builds the vector-index-mcp root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vector-index-mcp <project_path>",
		Short: "Local semantic index server for a software project",
		Long: `vector-index-mcp maintains a semantic search index over a project's
files: it scans, chunks, and embeds source files into a local vector store,
keeps the index current as files change, and exposes trigger_index, search,
and get_status over MCP stdio and/or HTTP.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError("expected exactly one argument: project_path")
			}
			return nil
		},
		RunE: runRoot,
	}
	cmd.SetVersionTemplate("vector-index-mcp version {{.Version}}\n")

	cmd.Flags().StringVar(&flagLanceDBURI, "lancedb-uri", "", "override the vector store directory (env LANCEDB_URI)")
	cmd.Flags().StringVar(&flagEmbeddingModel, "embedding-model", "", "override the embedding model name (env EMBEDDING_MODEL_NAME)")
	cmd.Flags().StringSliceVar(&flagIgnore, "ignore", nil, "override the ignore pattern list (env IGNORE_PATTERNS)")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override the log level: DEBUG/INFO/WARN/ERROR (env LOG_LEVEL)")
	cmd.Flags().StringVar(&flagHost, "host", "", "override the HTTP bind host (env HOST)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "override the HTTP bind port (env PORT)")
	cmd.Flags().StringVar(&flagTransport, "transport", "", "override the transport: stdio/http/both (env TRANSPORT)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.vector-index-mcp/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "vector-index-mcp:", exitErr.Err)
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, "vector-index-mcp:", err)
		return 1
	}
	return 0
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return startupError(fmt.Errorf("setup debug logging: %w", err))
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(args[0])
	if err != nil {
		return usageError("%s", err)
	}
	applyFlagOverrides(cmd, settings)
	if err := settings.Validate(); err != nil {
		return usageError("%s", err)
	}

	svc, err := lifecycle.Start(ctx, settings)
	if err != nil {
		return startupError(err)
	}

	f := facade.New(svc.Indexer, svc.Registry)

	var serveErr error
	switch strings.ToLower(settings.Transport) {
	case "stdio":
		serveErr = mcpstdio.NewServer(f).Serve(ctx)
	case "http":
		serveErr = serveHTTP(ctx, settings, f)
	case "both":
		serveErr = serveBoth(ctx, settings, f)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serviceShutdownGrace)
	defer cancel()
	if shutdownErr := svc.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("shutdown reported an error", slog.String("error", shutdownErr.Error()))
	}

	if serveErr != nil {
		return startupError(serveErr)
	}
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, settings *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("lancedb-uri") {
		settings.LanceDBURI = flagLanceDBURI
	}
	if flags.Changed("embedding-model") {
		settings.EmbeddingModelName = flagEmbeddingModel
	}
	if flags.Changed("ignore") {
		settings.IgnorePatterns = flagIgnore
	}
	if flags.Changed("log-level") {
		settings.LogLevel = flagLogLevel
	}
	if flags.Changed("host") {
		settings.Host = flagHost
	}
	if flags.Changed("port") {
		settings.Port = flagPort
	}
	if flags.Changed("transport") {
		settings.Transport = flagTransport
	}
}

func serveHTTP(ctx context.Context, settings *config.Settings, f *facade.Facade) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler: httpapi.NewHandler(f),
	}
	return runHTTPServer(ctx, srv)
}

// serveBoth runs the stdio and HTTP transports concurrently over the same
// facade; either one failing cancels the other via gctx.
func serveBoth(ctx context.Context, settings *config.Settings, f *facade.Facade) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return mcpstdio.NewServer(f).Serve(gctx)
	})
	group.Go(func() error {
		srv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", settings.Host, settings.Port),
			Handler: httpapi.NewHandler(f),
		}
		return runHTTPServer(gctx, srv)
	})
	return group.Wait()
}

func runHTTPServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
