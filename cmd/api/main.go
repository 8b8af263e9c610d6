package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/y3dhub/api/internal/extraction"
	"github.com/y3dhub/api/internal/handlers"
	"github.com/y3dhub/api/internal/normalize"
	"github.com/y3dhub/api/internal/platform/config"
	pfirestore "github.com/y3dhub/api/internal/platform/firestore"
	"github.com/y3dhub/api/internal/platform/jobs"
	"github.com/y3dhub/api/internal/platform/observability"
	"github.com/y3dhub/api/internal/platform/secrets"
	"github.com/y3dhub/api/internal/repositories"
	firestoreRepo "github.com/y3dhub/api/internal/repositories/firestore"
	"github.com/y3dhub/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

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

	var publisher services.ReconcileEventPublisher
	if cfg.Features.EnableEvents {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.Events.Topic)
		defer topic.Stop()
		pubsubPublisher, err := jobs.NewPubSubReconcilePublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise reconcile event publisher", zap.Error(err))
		}
		publisher = pubsubPublisher
	}

	var audits repositories.ExtractionAuditRepository
	if cfg.Features.EnableExtractionAudit {
		audits = registry.ExtractionAudits()
	}

	reconcileService, err := services.NewReconcileService(services.ReconcileServiceDeps{
		Orders:     registry.Orders(),
		PrintTasks: registry.PrintTasks(),
		Audits:     audits,
		UnitOfWork: registry,
		Normalizer: pipeline,
		Extractor:  extractor,
		Publisher:  publisher,
		Clock:      time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise reconcile service", zap.Error(err))
	}

	planService, err := services.NewPlanService(services.PlanServiceDeps{
		PrintTasks:        registry.PrintTasks(),
		MaxColorsPerPlate: cfg.Planner.MaxColorsPerTask,
		MaxItemsPerPlate:  cfg.Planner.MaxTaskItems,
	})
	if err != nil {
		logger.Fatal("failed to initialise plan service", zap.Error(err))
	}

	printTaskService, err := services.NewPrintTaskService(services.PrintTaskServiceDeps{
		PrintTasks: registry.PrintTasks(),
		Orders:     registry.Orders(),
	})
	if err != nil {
		logger.Fatal("failed to initialise print task service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(reconcileService)
	plannerHandlers := handlers.NewPlannerHandlers(planService)
	printTaskHandlers := handlers.NewPrintTaskHandlers(printTaskService)
	healthHandlers := handlers.NewHealthHandlers(registry.Health())

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPlannerRoutes(plannerHandlers.Routes),
		handlers.WithPrintTaskRoutes(printTaskHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("print task api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before the
// process may serve traffic. The AI key is only mandatory when it is sourced
// from Secret Manager; plain-text keys are allowed for local development.
func requiredSecretNames(env map[string]string) []string {
	apiKey := ""
	if env != nil {
		apiKey = strings.TrimSpace(env["API_AI_API_KEY"])
	}
	if strings.HasPrefix(apiKey, "secret://") || strings.HasPrefix(apiKey, "sm://") {
		return []string{"AI.APIKey"}
	}
	return nil
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	raw = strings.TrimSpace(raw)
	pins := make(map[string]string)
	if raw == "" {
		return pins
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[0])
		version := strings.TrimSpace(parts[1])
		if ref == "" || version == "" {
			continue
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}
