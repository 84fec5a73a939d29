// Command codeforged is the code-generation orchestrator's server
// (spec §2, §6). It wires the Model Registry, resilience envelope, File
// Accumulator, Execution Sandbox Adapter, Iteration Engine, Job Manager,
// Persistence Layer, and Orchestration Facade together through explicit
// constructor parameters (no DI container or attribute-based registration,
// per spec.md §9).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/codeforge/orchestrator/internal/config"
	"github.com/codeforge/orchestrator/internal/engine"
	"github.com/codeforge/orchestrator/internal/events"
	"github.com/codeforge/orchestrator/internal/facade"
	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/metrics"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/model/providers/openai"
	"github.com/codeforge/orchestrator/internal/resilience"
	"github.com/codeforge/orchestrator/internal/sandbox"
	"github.com/codeforge/orchestrator/internal/store"
	"github.com/codeforge/orchestrator/internal/telemetry"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "codeforged",
		Short: "Code-generation orchestrator service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (spec §6.3)")

	root.AddCommand(serveCmd(), migrateCmd(), catalogCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wiring is everything cmd/codeforged assembles once config is loaded; both
// `serve` and `migrate` build one so the retention sweep and the server
// share identical store/logger setup instead of duplicating it.
type wiring struct {
	cfg       *config.Config
	logger    logging.Logger
	fileStore *store.FileStore
	manager   *job.Manager
	registry  *model.Registry
	reg       *prometheus.Registry
	metrics   *metrics.Registry
}

func buildWiring(cfg *config.Config) (*wiring, error) {
	level := logging.ParseLevel(os.Getenv("CODEFORGE_LOG_LEVEL"))
	logger := logging.NewStdLogger(level)

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	perf := model.NewPerformanceStore()
	catalog := cfg.Models.Catalog
	if len(catalog) == 0 {
		catalog = config.DefaultCatalog()
	}
	registry, err := model.NewRegistry(catalog, perf)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewRegistryWithDefaults(logger, metricsReg.BreakerListener(),
		cfg.Resilience.CircuitBreakerThreshold, cfg.Resilience.CircuitBreakerBreakDuration)
	envelope := resilience.NewEnvelope(breakers)
	envelope.Retry.MaxAttempts = cfg.Resilience.RetryAttempts

	codeGen := map[string]model.CodeGenClient{
		"local-codegen": model.NewMockCodeGenClient("local-codegen"),
	}
	thinkers := map[string]model.ThinkerClient{
		"local-thinker": &model.MockThinkerClient{},
	}
	validators := map[string]model.ValidatorClient{
		"local-validator": model.NewMockValidatorClient(),
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		oa := openai.New("cloud-codegen", "gpt-4o", cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIBaseURL)
		codeGen["cloud-codegen"] = oa
	}
	wireBedrock(codeGen, cfg, logger)

	var redisMirror *store.RedisMirror
	if cfg.Store.RedisURL != "" {
		redisMirror, err = store.NewRedisMirror(cfg.Store.RedisURL, 0, cfg.Store.RedisNamespace, logger)
		if err != nil {
			return nil, err
		}
	}
	fileStore, err := store.New(cfg.Store.Dir, logger, redisMirror)
	if err != nil {
		return nil, err
	}

	collab := engine.Collaborators{
		Registry: registry, CodeGen: codeGen, Thinkers: thinkers, Validators: validators,
		Memory:   model.NewMockMemoryClient(perf),
		Sandbox:  sandbox.NewContainerRunner(logger),
		Envelope: envelope,
	}
	engCfg := engine.DefaultConfig()
	engCfg.ThinkIterations = cfg.Iteration.ThinkIterations
	engCfg.MinAcceptableScore = cfg.Iteration.MinAcceptableScore
	engCfg.FloorScore = cfg.Iteration.FloorScore
	engCfg.FloorAfterAttempts = cfg.Iteration.FloorAfterAttempts
	engCfg.Tier1Threshold = cfg.Escalation.Tier1Threshold
	engCfg.Tier2Threshold = cfg.Escalation.Tier2Threshold
	engCfg.StepRetryBudget = cfg.Iteration.StepRetryBudget
	eng := engine.New(collab, defaultLanguages(), engCfg, fileStore, logger)
	eng.OnOutcome = func(rec model.PerformanceRecord) {
		metricsReg.RecordIteration(rec.Language, rec.Model, rec.Score)
	}

	manager := job.NewManager(job.Config{
		MaxConcurrentJobs: cfg.Orchestrator.MaxConcurrentJobs,
		QueueCapacity:     cfg.Orchestrator.QueueCapacity,
		JobTimeout:        cfg.Orchestrator.JobTimeout,
		RetentionDays:     cfg.Orchestrator.RetentionDays,
	}, eng, fileStore, logger)

	notifier := job.Notifier(&metrics.JobNotifier{Metrics: metricsReg})
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		notifier = &metrics.JobNotifier{Metrics: metricsReg, Next: pub}
	}
	manager.SetNotifier(notifier)

	if err := manager.LoadFromStore(); err != nil {
		return nil, err
	}

	return &wiring{cfg: cfg, logger: logger, fileStore: fileStore, manager: manager, registry: registry, reg: promReg, metrics: metricsReg}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator's HTTP facade (spec §6.2)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			w, err := buildWiring(cfg)
			if err != nil {
				return err
			}
			return runServe(w)
		},
	}
}

func runServe(w *wiring) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "codeforge-orchestrator")
	if err != nil {
		w.logger.Warn("tracing disabled: init failed", logging.Fields{"error": err.Error()})
	} else {
		defer shutdownTracing(context.Background())
	}

	w.manager.Start(ctx)
	defer w.manager.Stop()

	stopCatalogWatch := watchCatalog(w, configPath)
	defer stopCatalogWatch()

	sweep := cron.New()
	_, err = sweep.AddFunc("@daily", func() {
		n := w.manager.RetentionSweep(time.Now())
		w.metrics.RetentionDeleted.Add(float64(n))
		w.logger.Info("retention sweep", logging.Fields{"deleted": n})
	})
	if err != nil {
		return err
	}
	sweep.Start()
	defer sweep.Stop()

	stopSampler := sampleJobStates(ctx, w)
	defer stopSampler()

	allowed := make(map[string]bool, len(w.cfg.Facade.AllowedLanguages))
	for _, l := range w.cfg.Facade.AllowedLanguages {
		allowed[l] = true
	}
	srv := facade.NewServer(w.manager, allowed, w.cfg.Orchestrator.DefaultResourceBudget, w.logger)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(w.reg, promhttp.HandlerOpts{}))

	handler := otelhttp.NewHandler(mux, "codeforge-facade")
	httpSrv := &http.Server{Addr: w.cfg.Facade.ListenAddr, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	w.logger.Info("codeforged listening", logging.Fields{"addr": w.cfg.Facade.ListenAddr})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// sampleJobStates periodically refreshes the jobs_by_state gauge (spec
// §4.6's observable progress isn't per-transition-notified today, only
// completed/needs_help are; see internal/metrics.JobNotifier doc comment).
func sampleJobStates(ctx context.Context, w *wiring) func() {
	ticker := time.NewTicker(5 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.metrics.SampleJobStates(w.manager.List())
			}
		}
	}()
	return func() { ticker.Stop(); <-done }
}

// watchCatalog hot-reloads Models.Catalog when the config file changes on
// disk (SPEC_FULL.md Part D), via the Registry's already-atomic Reload. A
// no-op watcher is returned when no config file was given.
func watchCatalog(w *wiring, path string) func() {
	if path == "" {
		return func() {}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("catalog hot-reload disabled", logging.Fields{"error": err.Error()})
		return func() {}
	}
	if err := watcher.Add(path); err != nil {
		w.logger.Warn("catalog hot-reload disabled", logging.Fields{"error": err.Error()})
		watcher.Close()
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := config.Load(path)
				if err != nil {
					w.logger.Warn("catalog reload failed", logging.Fields{"error": err.Error()})
					continue
				}
				if err := w.registry.Reload(reloaded.Models.Catalog); err != nil {
					w.logger.Warn("catalog reload rejected", logging.Fields{"error": err.Error()})
					continue
				}
				w.logger.Info("catalog reloaded", logging.Fields{"models": len(reloaded.Models.Catalog)})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("catalog watcher error", logging.Fields{"error": err.Error()})
			}
		}
	}()
	return func() { watcher.Close(); <-done }
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the persistence layer's retention sweep once and exit (spec §4.7)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			w, err := buildWiring(cfg)
			if err != nil {
				return err
			}
			n := w.manager.RetentionSweep(time.Now())
			fmt.Printf("deleted %d terminal job(s)\n", n)
			return nil
		},
	}
}

func catalogCmd() *cobra.Command {
	catalogCmd := &cobra.Command{Use: "catalog", Short: "Model catalog utilities"}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate a config file's Models.Catalog against spec §4.1's ConfigError conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			catalog := cfg.Models.Catalog
			if len(catalog) == 0 {
				catalog = config.DefaultCatalog()
			}
			if _, err := model.NewRegistry(catalog, nil); err != nil {
				return err
			}
			fmt.Printf("catalog OK: %d model(s)\n", len(catalog))
			return nil
		},
	})
	return catalogCmd
}
