package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/facturaIA/invoice-insight/api"
	"github.com/facturaIA/invoice-insight/internal/ai"
	"github.com/facturaIA/invoice-insight/internal/auth"
	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/facturaIA/invoice-insight/internal/db"
	"github.com/facturaIA/invoice-insight/internal/learning"
	"github.com/facturaIA/invoice-insight/internal/logger"
	"github.com/facturaIA/invoice-insight/internal/ocr"
	"github.com/facturaIA/invoice-insight/internal/parser"
	"github.com/facturaIA/invoice-insight/internal/pipeline"
	"github.com/facturaIA/invoice-insight/internal/services"
	"github.com/facturaIA/invoice-insight/internal/storage"
)

type userSeeder interface {
	auth.UserStore
	CreateUser(ctx context.Context, u db.User) (string, error)
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server.failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Database is optional: without it invoices are kept in memory
	var database api.Pinger
	if err := db.Init(cfg.Database.URL); err != nil {
		if !errors.Is(err, db.ErrNoDatabase) {
			log.Warn("db.unavailable", zap.Error(err))
		}
		log.Info("db.memory_mode")
	} else {
		defer db.Close()
		if err := db.Migrate(ctx, db.GetPool()); err != nil {
			return err
		}
		database = db.GetPool()
	}

	var invoices db.InvoiceStore = db.NewMemoryInvoiceStore()
	var users userSeeder = db.NewMemoryUserStore()
	if pool := db.GetPool(); pool != nil {
		invoices = db.NewPostgresInvoiceStore(pool)
		users = db.NewPostgresUserStore(pool)
	}
	seedAdmin(ctx, users, log)

	repo, closeRepo, err := learningRepository(cfg.Learning, log)
	if err != nil {
		return err
	}
	defer closeRepo()
	engine := learning.NewEngine(repo,
		learning.WithPredictLimit(cfg.Learning.PredictLimit),
		learning.WithDecayFactor(cfg.Learning.DecayFactor),
		learning.WithLogger(log),
	)

	categoryRules, err := learning.LoadCategoryRules(cfg.RulesPath)
	if err != nil {
		log.Warn("rules.category.load_failed", zap.Error(err))
	}
	ruleSet, err := learning.NewRuleSet(categoryRules)
	if err != nil {
		return fmt.Errorf("invalid category rules: %w", err)
	}

	parserRules, err := parser.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Warn("rules.vendor.load_failed", zap.Error(err))
	}
	rules, err := parser.New(parserRules)
	if err != nil {
		return fmt.Errorf("invalid vendor rules: %w", err)
	}

	extractor, err := ocr.NewFromConfig(cfg.OCR, log)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithOCR(extractor),
		pipeline.WithStore(invoices),
		pipeline.WithLearner(engine),
		pipeline.WithWindow(services.Window{
			AmountTolerance: cfg.Duplicates.AmountTolerance,
			Days:            cfg.Duplicates.DateWindowDays,
		}),
		pipeline.WithMinConfidence(cfg.AI.MinParseConfidence),
		pipeline.WithLogger(log),
	}

	provider, err := ai.NewProvider(ctx, cfg.AI)
	switch {
	case errors.Is(err, ai.ErrNoProvider):
		log.Info("ai.disabled")
	case err != nil:
		log.Warn("ai.unavailable", zap.String("provider", cfg.AI.DefaultProvider), zap.Error(err))
	default:
		llm := ai.NewExtractor(provider, ai.WithTimeout(cfg.AI.Timeout), ai.WithLogger(log))
		opts = append(opts, pipeline.WithParser(pipeline.LLMStrategy(llm)))
	}

	archive, err := storage.NewMinioArchive(ctx, cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrNoStorage):
		log.Info("storage.disabled")
	case err != nil:
		log.Warn("storage.unavailable", zap.Error(err))
	default:
		opts = append(opts, pipeline.WithArchive(archive))
	}

	validator := services.NewValidator(rules)
	proc := pipeline.New(rules, validator, learning.NewCategorizer(engine, ruleSet, log), opts...)

	authenticator := auth.NewAuthenticator(cfg.Auth)
	if !authenticator.Enabled() {
		log.Warn("auth.disabled", zap.String("reason", "no JWT_SECRET configured"))
	}

	providerName := ""
	if provider != nil {
		providerName = provider.Name()
	}
	handler := api.NewHandler(cfg, api.Deps{
		Processor: proc,
		Engine:    engine,
		Validator: validator,
		Auth:      authenticator,
		Users:     users,
		Database:  database,
		Provider:  providerName,
	}, log)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.starting",
			zap.String("addr", addr),
			zap.String("version", api.Version),
			zap.String("ocr_engine", cfg.OCR.Engine),
			zap.String("ai_provider", providerName),
			zap.String("learning_store", cfg.Learning.Store),
			zap.Bool("database", database != nil),
			zap.Bool("storage", archive != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server.stopped")
	return nil
}

// learningRepository opens the vendor mapping store named by cfg.Store
func learningRepository(cfg config.LearningConfig, log *zap.Logger) (learning.Repository, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case "", "memory":
		return learning.NewMemoryRepository(), noop, nil
	case "bolt":
		repo, err := learning.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, noop, err
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		pool := db.GetPool()
		if pool == nil {
			log.Warn("learning.postgres_unavailable", zap.String("fallback", "memory"))
			return learning.NewMemoryRepository(), noop, nil
		}
		return db.NewVendorMappingRepository(pool), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown learning store %q", cfg.Store)
	}
}

// seedAdmin creates the ADMIN_EMAIL account when it does not exist yet
func seedAdmin(ctx context.Context, users userSeeder, log *zap.Logger) {
	email, password := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}
	tenant := os.Getenv("ADMIN_TENANT")
	if _, err := users.FindUser(ctx, tenant, email); err == nil {
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Warn("auth.seed.failed", zap.Error(err))
		return
	}
	if _, err := users.CreateUser(ctx, db.User{
		Tenant:       tenant,
		Email:        email,
		Name:         "Administrator",
		Role:         "admin",
		PasswordHash: hash,
	}); err != nil {
		log.Warn("auth.seed.failed", zap.Error(err))
		return
	}
	log.Info("auth.seed.created", zap.String("email", email), zap.String("tenant", tenant))
}
