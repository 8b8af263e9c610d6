// Command printqueue is the operator CLI for the print task service. It talks
// to the same Firestore project as the API and runs reconciliation or plate
// planning without going through HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/y3dhub/api/internal/extraction"
	"github.com/y3dhub/api/internal/normalize"
	"github.com/y3dhub/api/internal/platform/config"
	pfirestore "github.com/y3dhub/api/internal/platform/firestore"
	"github.com/y3dhub/api/internal/platform/observability"
	"github.com/y3dhub/api/internal/platform/secrets"
	firestoreRepo "github.com/y3dhub/api/internal/repositories/firestore"
	"github.com/y3dhub/api/internal/services"
)

var quiet bool

var rootCmd = &cobra.Command{
	Use:           "printqueue",
	Short:         "Operator tooling for the print task service",
	Long:          "printqueue reconciles marketplace orders into print tasks and packs pending tasks onto plates, using the same configuration as the API server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational logging")
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(planCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles the wiring shared by every subcommand.
type runtime struct {
	logger     *zap.Logger
	cfg        config.Config
	registry   *firestoreRepo.Registry
	reconciles services.ReconcileService
	plans      services.PlanService

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newRuntime(ctx context.Context) (*runtime, error) {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger := baseLogger.Named("printqueue")
	if quiet {
		logger = zap.NewNop()
	}

	rt := &runtime{logger: logger}
	rt.closers = append(rt.closers, func() { _ = baseLogger.Sync() })

	envValues, err := config.EnvironmentValues()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = fetcher.Close() })

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	rt.cfg = cfg

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Close(closeCtx)
	})

	registry, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialise repositories: %w", err)
	}
	rt.registry = registry

	extractor := extraction.NewClient(extraction.Config{
		BaseURL:   cfg.AI.BaseURL,
		Model:     cfg.AI.Model,
		APIKey:    cfg.AI.APIKey,
		Timeout:   cfg.AI.Timeout,
		MaxTokens: cfg.AI.MaxTokens,
	}, nil)

	pipeline := normalize.NewPipeline(
		normalize.NewNotesNormalizer(),
		normalize.NewArchiveNormalizer(nil, cfg.Normalize.ArchiveFetchTimeout),
	)

	reconciles, err := services.NewReconcileService(services.ReconcileServiceDeps{
		Orders:     registry.Orders(),
		PrintTasks: registry.PrintTasks(),
		Audits:     registry.ExtractionAudits(),
		UnitOfWork: registry,
		Normalizer: pipeline,
		Extractor:  extractor,
		Clock:      time.Now,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialise reconcile service: %w", err)
	}
	rt.reconciles = reconciles

	plans, err := services.NewPlanService(services.PlanServiceDeps{
		PrintTasks:        registry.PrintTasks(),
		MaxColorsPerPlate: cfg.Planner.MaxColorsPerTask,
		MaxItemsPerPlate:  cfg.Planner.MaxTaskItems,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("initialise plan service: %w", err)
	}
	rt.plans = plans

	return rt, nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project := lookup("API_SECRET_DEFAULT_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	} else if project := lookup("API_FIRESTORE_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}

	return secrets.NewFetcher(ctx, opts...)
}
