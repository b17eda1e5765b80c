package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pipeckpt/internal/scenarios"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/verify"
)

// ErrVerificationFailed is returned when at least one check failed.
var ErrVerificationFailed = errors.New("checkpoint verification failed")

type verifyOptions struct {
	format        string
	checkpointDir string
	policy        string
	codec         string
	noCompress    bool
	seed          uint64
	metricsAddr   string
	linger        time.Duration
}

// NewVerifyCommand creates the verify subcommand.
func NewVerifyCommand() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify [scenario...]",
		Short: "Run the checkpoint checks against built-in scenarios",
		Long: `Run the checkpoint conformance checks against the named scenarios,
or against every scenario when none is named. Exits non-zero when a check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()

			if flags.Changed("checkpoint-dir") {
				cfg.Checkpoint.Dir = opts.checkpointDir
			}

			if flags.Changed("policy") {
				cfg.Checkpoint.ExternalStatePolicy = opts.policy
			}

			if flags.Changed("codec") {
				cfg.Checkpoint.Codec = opts.codec
			}

			if flags.Changed("no-compress") {
				cfg.Checkpoint.Compress = !opts.noCompress
			}

			if flags.Changed("seed") {
				cfg.Scenario.Seed = opts.seed
			}

			if flags.Changed("metrics-addr") {
				cfg.Observability.MetricsAddr = opts.metricsAddr
			}

			validateErr := cfg.Validate()
			if validateErr != nil {
				return validateErr
			}

			formatErr := checkFormat(opts.format)
			if formatErr != nil {
				return formatErr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return runVerify(cmd.Context(), cmd.OutOrStdout(), a, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, formatFlag, FormatTable, formatFlagUsage)
	cmd.Flags().StringVar(&opts.checkpointDir, "checkpoint-dir", "", "round trip every checkpoint through files under this directory")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "external state policy: fail, warn or ignore")
	cmd.Flags().StringVar(&opts.codec, "codec", "", "checkpoint codec: gob or json")
	cmd.Flags().BoolVar(&opts.noCompress, "no-compress", false, "disable LZ4 compression of encoded checkpoints")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "seed for the random generator scenario")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while verifying")
	cmd.Flags().DurationVar(&opts.linger, "linger", 0, "keep serving metrics this long after the checks finish")

	return cmd
}

func runVerify(ctx context.Context, w io.Writer, a *app, names []string, opts verifyOptions) error {
	selected, err := scenarios.Select(names)
	if err != nil {
		return err
	}

	if a.cfg.Observability.MetricsAddr != "" {
		srv, serveErr := serveMetrics(a.cfg.Observability.MetricsAddr, a.providers.MetricsHandler, a.logger())
		if serveErr != nil {
			return serveErr
		}

		defer func() {
			if opts.linger > 0 {
				a.logger().Info("lingering for metric scrapes", "url", srv.URL(), "duration", opts.linger)

				select {
				case <-time.After(opts.linger):
				case <-ctx.Done():
				}
			}

			_ = srv.Shutdown(context.Background())
		}()
	}

	params := scenarioParams(a.cfg)
	reports := make([]*verify.Report, 0, len(selected))
	failed := 0

	for _, sc := range selected {
		h := verify.New(verify.Options{
			Name:          sc.Name,
			Coordinator:   a.coord,
			CheckpointDir: a.cfg.Checkpoint.Dir,
			Logger:        a.logger(),
			Metrics:       a.metrics,
		})

		report, runErr := sc.Run(ctx, h, params)
		if runErr != nil {
			failed++
		}

		reports = append(reports, report)

		if ctx.Err() != nil {
			break
		}
	}

	renderErr := renderReports(w, opts.format, reports)
	if renderErr != nil {
		return renderErr
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d scenarios", ErrVerificationFailed, failed, len(reports))
	}

	return ctx.Err()
}
