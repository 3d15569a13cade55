package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vexport/internal/config"
	"vexport/internal/logging"
	"vexport/internal/preflight"
	"vexport/internal/presets"
	"vexport/internal/queue"
	"vexport/internal/services"
	"vexport/internal/session"
	"vexport/internal/staging"
	"vexport/internal/transcoder"
)

const stagingLockName = ".vexport.lock"

type exportOptions struct {
	presets      []string
	outputFormat string
	unit         string
	metricsBind  string
	noReport     bool
	skipChecks   bool
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Export a source through every configured preset",
		Long: `Export a video file through each preset in order, one job at a time.

Each job writes into its own staging directory. When the run finishes, a
summary table is printed and vexport-stats.csv is written to the report
directory. Interrupting the run cancels the active job and every pending one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.presets, "preset", "p", nil, "Preset to export (repeatable; full or short name)")
	cmd.Flags().StringVarP(&opts.outputFormat, "format", "f", "", "Output container override (mp4, mov, mkv, ...)")
	cmd.Flags().StringVar(&opts.unit, "unit", "", "Size unit for the summary table (bytes, kib, mib, gib)")
	cmd.Flags().StringVar(&opts.metricsBind, "metrics-bind", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&opts.noReport, "no-report", false, "Skip writing vexport-stats.csv")
	cmd.Flags().BoolVar(&opts.skipChecks, "skip-checks", false, "Skip binary and directory preflight checks")
	return cmd
}

func runExport(parent context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, sourceArg string, opts exportOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = services.WithRequestID(runCtx, newRunID())
	logger = logging.WithContext(runCtx, logger)

	ids, err := resolvePresets(cfg, opts.presets)
	if err != nil {
		return err
	}
	unit, err := session.ParseUnit(firstNonEmpty(opts.unit, cfg.Export.SizeUnit))
	if err != nil {
		return err
	}
	format := firstNonEmpty(opts.outputFormat, cfg.Export.OutputFormat)
	bind := firstNonEmpty(opts.metricsBind, cfg.Metrics.Bind)

	if !opts.skipChecks {
		if err := preflight.FirstFailure(preflight.RunAll(runCtx, cfg)); err != nil {
			return err
		}
	}

	sourcePath, err := config.ExpandPath(sourceArg)
	if err != nil {
		return err
	}
	prober := buildProber(cfg, logger)
	if _, ok := prober.ByteSize(sourcePath); !ok {
		return services.Wrap(services.ErrSourceUnavailable, "export", "open source", sourcePath+" is not a readable file", nil)
	}
	if !prober.IsVideo(runCtx, sourcePath) {
		return services.Wrap(services.ErrSourceUnavailable, "export", "inspect source", sourcePath+" is not a video", nil)
	}

	release, err := lockStaging(cfg.Paths.StagingDir)
	if err != nil {
		return err
	}
	defer release()

	if res := staging.CleanStale(runCtx, cfg.Paths.StagingDir, cfg.StaleAfter(), logger); len(res.Removed) > 0 {
		logger.Info("stale staging directories removed", logging.Int("count", len(res.Removed)))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	alloc := staging.NewAllocator(cfg.Paths.StagingDir,
		staging.WithMinFreeBytes(cfg.MinFreeBytes()),
		staging.WithLogger(logger),
	)
	q := queue.New(buildTranscoder(cfg, logger), prober,
		queue.WithLogger(logger),
		queue.WithProgressInterval(cfg.ProgressInterval()),
		queue.WithMetrics(queue.NewMetrics(reg)),
		queue.WithCleanup(alloc.Release),
	)
	defer q.Stop()

	progress := newProgressPrinter(out, 25)
	sess := session.New(q, alloc,
		session.WithPresets(ids...),
		session.WithOutputFormat(format),
		session.WithLogger(logger),
		session.WithProgressObserverFactory(progress.observer),
	)

	if _, err := sess.StartExport(runCtx, transcoder.NewSource(sourcePath)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exporting %s through %d preset(s)\n", filepath.Base(sourcePath), len(sess.Jobs()))

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(done)
		if err := sess.Wait(gctx); err != nil {
			sess.Cancel()
			return sess.Wait(context.Background())
		}
		return nil
	})
	if bind != "" {
		g.Go(func() error {
			return serveMetrics(gctx, done, bind, reg, logger)
		})
	}
	groupErr := g.Wait()

	fmt.Fprintln(out)
	fmt.Fprint(out, renderJobTable(sess.Jobs(), colorEnabled(out)))
	fmt.Fprintln(out)
	if rows := sess.Report(unit); len(rows) > 0 {
		fmt.Fprint(out, renderReportTable(rows, unit))
		fmt.Fprintln(out)
	}
	if !opts.noReport {
		path, err := sess.SaveReport(cfg.Paths.ReportDir)
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		fmt.Fprintf(out, "Report written to %s\n", path)
	}

	if runCtx.Err() != nil {
		return fmt.Errorf("export interrupted: %w", context.Canceled)
	}
	if groupErr != nil {
		return groupErr
	}
	summary := sess.Summary()
	if summary[queue.StatusCompleted] == 0 {
		return errors.New("no preset exported successfully")
	}
	return nil
}

// lockStaging takes the exclusive staging lock so two runs never share
// allocations or clean each other's output.
func lockStaging(dir string) (func(), error) {
	lock := flock.New(filepath.Join(dir, stagingLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire staging lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another vexport process is using this staging directory")
	}
	return func() { _ = lock.Unlock() }, nil
}

// resolvePresets applies the --preset flag over the configured list.
func resolvePresets(cfg *config.Config, flags []string) ([]presets.ID, error) {
	ids := cfg.PresetIDs()
	if len(flags) > 0 {
		parsed, err := presets.ParseList(flags)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "export", "parse presets", "", err)
		}
		ids = parsed
	}
	for _, id := range ids {
		p, _ := presets.Lookup(id)
		if p.Engine == presets.EngineDrapto && !cfg.Engines.DraptoEnabled {
			return nil, services.Wrap(services.ErrConfiguration, "export", "resolve presets",
				id.DisplayName()+" requires engines.drapto_enabled", nil)
		}
	}
	return ids, nil
}

// serveMetrics exposes reg until the run finishes or ctx ends.
func serveMetrics(ctx context.Context, done <-chan struct{}, bind string, reg *prometheus.Registry, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Info("metrics endpoint listening",
		logging.String("addr", listener.Addr().String()),
		logging.String(logging.FieldEventType, "metrics_started"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-done:
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// progressPrinter prints one line per preset each time progress crosses a
// bucket boundary.
type progressPrinter struct {
	out    io.Writer
	bucket float64
	mu     sync.Mutex
}

func newProgressPrinter(out io.Writer, bucketPercent float64) *progressPrinter {
	return &progressPrinter{out: out, bucket: bucketPercent}
}

func (p *progressPrinter) observer(id presets.ID) func(float64) {
	sampler := logging.NewProgressSampler(p.bucket)
	name := id.DisplayName()
	return func(fraction float64) {
		if !sampler.ShouldLog(fraction, "export") {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.out, "  %-16s %3.0f%%\n", name, fraction*100)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func newRunID() string {
	return uuid.NewString()
}
