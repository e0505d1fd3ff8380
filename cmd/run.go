package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cstlee/RooBench/config"
	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/aggregate"
	"github.com/cstlee/RooBench/internal/render"
	"github.com/cstlee/RooBench/internal/service/analyze"
	"github.com/cstlee/RooBench/internal/service/coordinator"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

var runName string

const runConfigFile = "config.yaml"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark across the cluster and print the report",
	Long: `Drive every configured host through the benchmark phases, collect the
snapshot files into <local_log_dir>/<run_name> and print the cluster report.

Example:
  roobench run -c config.yaml
  roobench run --name smoke --log-level debug`,
	RunE: runBenchmark,
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "run name (default: timestamp)")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runName != "" {
		cfg.RunName = runName
	}
	cfg.EnsureRunName(time.Now())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen)
	}

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	run := coordinator.NewRun(cfg.RunName, cfg.RemoteRunDir(), cfg.LocalRunDir(), cfg.ClusterHosts())
	if err := os.MkdirAll(run.LocalDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory '%s': %w", run.LocalDir, err)
	}
	if err := saveRunConfig(cfg, run.LocalDir); err != nil {
		return fmt.Errorf("failed to record run config: %w", err)
	}
	if err := coordinator.New(transport, coordinatorOptions(cfg)).Execute(ctx, run); err != nil {
		return err
	}

	report, err := analyze.New(analyze.Options{
		Dir:             run.LocalDir,
		BeforeIndex:     cfg.Analysis.BeforeIndex,
		AfterIndex:      cfg.Analysis.AfterIndex,
		LatencyCapacity: cfg.Analysis.LatencyBufferCapacity,
	}).Analyze(run.HealthyHosts(), run.Exclusions())
	if err != nil {
		return err
	}
	report.RunID = run.ID

	if err := saveReport(filepath.Join(run.LocalDir, "report.json"), report); err != nil {
		logger.WithComponent("RUN").Warn("Failed to save report", "error", err)
	}
	return printReport(cfg, report)
}

func coordinatorOptions(cfg *config.Config) coordinator.Options {
	return coordinator.Options{
		CommandTimeout:        cfg.Timing.CommandTimeout(),
		Warmup:                cfg.Timing.Warmup(),
		Measure:               cfg.Timing.Measure(),
		Settle:                cfg.Timing.Settle(),
		SnapshotRetry:         cfg.Timing.SnapshotRetry(),
		SnapshotRetryInterval: cfg.Timing.SnapshotRetryInterval(),
		Parallelism:           cfg.Timing.Parallelism,
		Launch: agent.LaunchSpec{
			Binary:      cfg.Agent.Binary,
			BenchType:   cfg.Agent.BenchType,
			Threads:     cfg.Agent.Threads,
			BenchConfig: cfg.Agent.BenchConfig,
		},
	}
}

// saveRunConfig stores the effective config in dir, plus a copy of
// agent.bench_config when that file is readable on this machine.
func saveRunConfig(cfg *config.Config, dir string) error {
	if err := config.SaveConfig(filepath.Join(dir, runConfigFile), cfg); err != nil {
		return err
	}
	src := cfg.Agent.BenchConfig
	if src == "" || strings.HasPrefix(src, "~") {
		return nil
	}
	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		logger.WithComponent("RUN").Debug("Bench config only present on the hosts", "path", src)
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(src)), data, 0644)
}

func saveReport(path string, report *aggregate.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return render.JSON(f, report)
}

// printReport writes to report.output, or stdout when unset.
func printReport(cfg *config.Config, report *aggregate.Report) error {
	var w io.Writer = os.Stdout
	if cfg.Report.Output != "" {
		f, err := os.Create(cfg.Report.Output)
		if err != nil {
			return fmt.Errorf("failed to create report file '%s': %w", cfg.Report.Output, err)
		}
		defer f.Close()
		w = f
	}
	return render.Write(w, report, cfg.Report.Format)
}

func serveMetrics(ctx context.Context, addr string) {
	log := logger.WithComponent("METRICS")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("Metrics server stopped", "error", err)
	}
}
