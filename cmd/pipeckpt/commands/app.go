package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pipeckpt/internal/scenarios"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/config"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/observability"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/version"
)

const (
	metricsPath          = "/metrics"
	metricsHeaderTimeout = 5 * time.Second
)

// ErrNoMetricsHandler is returned when a metrics address is set but no Prometheus handler was built.
var ErrNoMetricsHandler = errors.New("prometheus exporter not initialized")

// app bundles what a command needs after configuration is loaded.
type app struct {
	cfg       *config.Config
	providers observability.Providers
	metrics   *observability.CheckpointMetrics
	coord     *checkpoint.Coordinator
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(configFlag)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool(verboseFlag)
	if verbose {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	codec, err := cfg.Codec()
	if err != nil {
		return nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	providers, err := observability.Init(cfg.ObservabilityConfig(version.Version))
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	metrics, err := observability.NewCheckpointMetrics(providers.Meter)
	if err != nil {
		_ = providers.Shutdown(context.Background())

		return nil, fmt.Errorf("create metrics: %w", err)
	}

	coord := checkpoint.NewCoordinator(checkpoint.Options{
		Codec:   codec,
		Policy:  policy,
		Logger:  providers.Logger,
		Tracer:  providers.Tracer,
		Metrics: metrics,
	})

	return &app{cfg: cfg, providers: providers, metrics: metrics, coord: coord}, nil
}

func (a *app) logger() *slog.Logger { return a.providers.Logger }

func (a *app) close() {
	shutdownErr := a.providers.Shutdown(context.Background())
	if shutdownErr != nil {
		a.logger().Warn("observability shutdown failed", "error", shutdownErr)
	}
}

func scenarioParams(cfg *config.Config) scenarios.Params {
	return scenarios.Params{
		SliceLen:   cfg.Scenario.SliceLen,
		Epochs:     cfg.Scenario.Epochs,
		Multiplier: cfg.Scenario.Multiplier,
		RangeSize:  cfg.Scenario.RangeSize,
		Seed:       cfg.Scenario.Seed,
	}
}

// metricsServer exposes the Prometheus handler while a command runs.
type metricsServer struct {
	srv  *http.Server
	addr net.Addr
}

func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) (*metricsServer, error) {
	if handler == nil {
		return nil, ErrNoMetricsHandler
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsHeaderTimeout}

	go func() {
		serveErr := srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", serveErr)
		}
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String(), "path", metricsPath)

	return &metricsServer{srv: srv, addr: ln.Addr()}, nil
}

func (m *metricsServer) URL() string {
	return "http://" + m.addr.String() + metricsPath
}

func (m *metricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
