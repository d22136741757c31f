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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"lead-qualifier/handler"
	"lead-qualifier/internal/config"
	"lead-qualifier/internal/dispatch"
	"lead-qualifier/internal/integrations/eventbridge"
	"lead-qualifier/internal/integrations/paramstore"
	"lead-qualifier/internal/integrations/whatsapp"
	"lead-qualifier/internal/logging"
	"lead-qualifier/internal/metrics"
	"lead-qualifier/internal/questionnaire"
	"lead-qualifier/internal/repository"
	"lead-qualifier/internal/retry"
	"lead-qualifier/internal/scheduler"
	"lead-qualifier/internal/session"
	"lead-qualifier/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lead-qualifier:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	// ---- Configuration ----
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.UsesParamStore() {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return err
		}
		if err := cfg.ApplySecrets(ctx, params); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.WhatsApp.AppSecret == "" {
		logger.Warn("WHATSAPP_APP_SECRET is empty, signed webhooks will be rejected")
	}

	questions := questionnaire.Default()
	if cfg.QuestionnairePath != "" {
		if questions, err = questionnaire.LoadFile(cfg.QuestionnairePath); err != nil {
			return err
		}
	}
	chain := make([]string, 0, questions.Len())
	for _, q := range questions.Questions() {
		chain = append(chain, q.ID)
	}
	logger.Info("questionnaire loaded", zap.Strings("questions", chain), zap.String("denominator", cfg.ScoreDenominator))

	scorer, err := usecase.NewScorer(questions, usecase.Denominator(cfg.ScoreDenominator))
	if err != nil {
		return err
	}

	// ---- Clients ----
	m := metrics.New()
	dynamoClient := awsdynamodb.NewFromConfig(awsCfg)
	downstream := retry.Policy{
		Retries: cfg.DownstreamRetries,
		Initial: 200 * time.Millisecond,
		Max:     2 * time.Second,
		Timeout: cfg.DownstreamTimeout,
	}

	sessions, err := openSessionStore(ctx, cfg, dynamoClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("failed to close session store", zap.Error(err))
		}
	}()

	leads, err := repository.NewLeadStore(dynamoClient, cfg.LeadTable, downstream)
	if err != nil {
		return err
	}

	var activity usecase.ActivityLogger = eventbridge.NewLogOnly(logger)
	if cfg.EventBusName != "" {
		if activity, err = eventbridge.New(awseventbridge.NewFromConfig(awsCfg), cfg.EventBusName, logger); err != nil {
			return err
		}
	}

	messenger, err := whatsapp.NewClient(cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken,
		whatsapp.WithBaseURL(cfg.WhatsApp.BaseURL),
		whatsapp.WithAPIVersion(cfg.WhatsApp.APIVersion),
		whatsapp.WithRetryPolicy(downstream),
		whatsapp.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	// ---- Workers ----
	dispatcher := dispatch.New(dispatch.Config{
		Workers:        cfg.WorkerCount,
		QueueSize:      cfg.QueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		Attempts:       cfg.ProcessAttempts,
		JobTimeout:     2 * cfg.DownstreamTimeout * time.Duration(cfg.DownstreamRetries+1),
	}, dispatch.WithLogger(logger), dispatch.WithMetrics(m))
	pending := scheduler.New(logger)

	// ---- Services ----
	flow, err := usecase.NewQualificationService(usecase.QualificationDeps{
		Questions:      questions,
		Scorer:         scorer,
		Sessions:       sessions,
		Messenger:      messenger,
		Leads:          leads,
		Activity:       activity,
		Pending:        pending,
		Metrics:        m,
		Logger:         logger,
		ForwardTimeout: cfg.DownstreamTimeout,
	})
	if err != nil {
		return err
	}
	welcome, err := usecase.NewWelcomeService(leads, messenger, pending, serializedStarter{dispatcher, flow}, activity,
		usecase.WelcomeConfig{
			Template:           cfg.WhatsApp.WelcomeTemplate,
			Language:           cfg.WhatsApp.TemplateLanguage,
			StartDelay:         cfg.FlowStartDelay,
			DefaultCountryCode: cfg.DefaultCountryCode,
		}, logger)
	if err != nil {
		return err
	}

	// ---- HTTP ----
	h, err := handler.NewHandler(handler.Deps{
		VerifyToken:       cfg.WhatsApp.VerifyToken,
		AppSecret:         cfg.WhatsApp.AppSecret,
		BusinessAccountID: cfg.WhatsApp.BusinessAccountID,
		RequireSignature:  cfg.RequireSignature,
		Dispatcher:        dispatcher,
		Replies:           flow,
		Welcome:           welcome,
		Sessions:          sessions,
		Pending:           pending,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("session_backend", cfg.SessionBackend))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down", zap.Int("pending_starts", pending.Len()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	pending.Stop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown incomplete", zap.Error(err))
	}
	flow.Wait()
	return nil
}

func openSessionStore(ctx context.Context, cfg *config.Config, dynamo *awsdynamodb.Client) (usecase.SessionStore, error) {
	switch cfg.SessionBackend {
	case config.BackendDynamoDB:
		return repository.NewSessionStore(dynamo, cfg.SessionTable, cfg.SessionTTL)
	case config.BackendRedis:
		return session.DialRedis(ctx, cfg.RedisURL, cfg.SessionTTL)
	default:
		return session.NewMemoryStore(cfg.SessionTTL, session.DefaultMaxEntries)
	}
}

// serializedStarter routes scheduled flow starts through the dispatcher so
// they share the per-phone worker with inbound replies.
type serializedStarter struct {
	dispatcher *dispatch.Dispatcher
	flow       *usecase.QualificationService
}

func (s serializedStarter) Start(ctx context.Context, in usecase.StartInput) error {
	return s.dispatcher.Submit(ctx, dispatch.Job{
		Key:  in.Phone,
		Name: "start",
		Run:  func(ctx context.Context) error { return s.flow.Start(ctx, in) },
	})
}
