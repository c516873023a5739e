// Package commands implements the defectminer subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/defectminer/internal/config"
	"github.com/Sumatoshi-tech/defectminer/internal/observability"
	"github.com/Sumatoshi-tech/defectminer/internal/report"
	"github.com/Sumatoshi-tech/defectminer/pkg/gitcli"
	"github.com/Sumatoshi-tech/defectminer/pkg/gitlib"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
	"github.com/Sumatoshi-tech/defectminer/pkg/version"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

// ErrUnknownBackend is returned for a backend name with no opener.
var ErrUnknownBackend = errors.New("unknown repository backend")

// OpenFunc builds the per-shard opener for a repository path.
type OpenFunc func(backend, path string) (miner.Opener, error)

// defaultOpen opens repositories with libgit2 or the git binary.
func defaultOpen(backend, path string) (miner.Opener, error) {
	switch backend {
	case "", config.BackendGitlib:
		return func() (miner.Repository, error) {
			repo, err := gitlib.OpenRepository(path)
			if err != nil {
				return nil, err
			}

			return repo, nil
		}, nil
	case config.BackendGit:
		client := gitcli.New(path)

		return func() (miner.Repository, error) { return client, nil }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath  string
	verbose     bool
	logFormat   string
	metricsAddr string
	format      string
	color       bool
}

// app carries what a subcommand needs once it starts.
type app struct {
	flags  globalFlags
	open   OpenFunc
	stdout io.Writer
	stderr io.Writer

	cfg       *config.Config
	providers observability.Providers
	metrics   *observability.MiningMetrics
	server    *http.Server
}

// load reads the config file and applies the global flag overrides.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.flags.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if a.flags.verbose {
		cfg.Logging.Level = "debug"
	}

	if flags.Changed("log-format") {
		cfg.Logging.Format = a.flags.logFormat
	}

	if flags.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = a.flags.metricsAddr
	}

	a.cfg = cfg

	return nil
}

// start initializes telemetry for mode and serves /metrics when configured.
func (a *app) start(ctx context.Context, mode observability.AppMode) error {
	validateErr := a.cfg.Validate()
	if validateErr != nil {
		return fmt.Errorf("validate config: %w", validateErr)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = a.cfg.Telemetry.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = a.cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = a.cfg.Telemetry.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(a.cfg.Telemetry.OTLPHeaders)
	obsCfg.SampleRatio = a.cfg.Telemetry.SampleRatio
	obsCfg.Prometheus = a.cfg.Telemetry.MetricsAddr != ""
	obsCfg.LogLevel = observability.ParseLevel(a.cfg.Logging.Level)
	obsCfg.LogJSON = a.cfg.Logging.Format == config.LogFormatJSON
	obsCfg.TraceVerbose = obsCfg.LogLevel <= slog.LevelDebug

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	providers.Logger = observability.NewLogger(a.stderr, obsCfg)
	a.providers = providers
	slog.SetDefault(providers.Logger)

	mm, err := observability.NewMiningMetrics(providers.Meter)
	if err != nil {
		return errors.Join(fmt.Errorf("create metrics: %w", err), providers.Shutdown(ctx))
	}

	a.metrics = mm

	if providers.MetricsHandler != nil {
		return a.serveMetrics(ctx, a.cfg.Telemetry.MetricsAddr, providers.MetricsHandler)
	}

	return nil
}

func (a *app) serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", addr, err), a.providers.Shutdown(ctx))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

	go func() {
		serveErr := a.server.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.providers.Logger.Error("metrics server failed", "error", serveErr)
		}
	}()

	a.providers.Logger.InfoContext(ctx, "serving metrics", "addr", ln.Addr().String())

	return nil
}

// stop shuts the metrics server and flushes telemetry.
func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()

	if a.server != nil {
		shutdownErr := a.server.Shutdown(ctx)
		if shutdownErr != nil {
			a.providers.Logger.Warn("metrics server shutdown failed", "error", shutdownErr)
		}
	}

	if a.providers.Shutdown != nil {
		shutdownErr := a.providers.Shutdown(ctx)
		if shutdownErr != nil {
			a.providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}
}

func (a *app) printer() (*report.Printer, error) {
	return report.NewPrinter(a.stdout, a.flags.format, a.flags.color)
}
