package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"meetbook/internal/api"
	"meetbook/internal/config"
	"meetbook/internal/database"
	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/google"
	"meetbook/internal/logging"
	"meetbook/internal/metrics"
	"meetbook/internal/notify"
	"meetbook/internal/repository"
	"meetbook/internal/service"
	"meetbook/internal/token"
	"meetbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	logger := logging.Component(base, "api-main")
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(base, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go database.NewBackupService(db, cfg.Backup, logging.Component(base, "backup")).Start(ctx)

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()

	googleOpts, err := initGoogleClient(ctx, cfg, logging.Component(base, "google"))
	if err != nil {
		logger.Error().Err(err).Msg("google credentials")
		return err
	}

	calendar, err := google.NewCalendarService(ctx, cfg.Booking.Timezone, googleOpts...)
	if err != nil {
		return fmt.Errorf("init calendar: %w", err)
	}

	mailer, err := initMailer(ctx, cfg, googleOpts)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(mailer, initTelegram(cfg, logger), notify.Config{
		OwnerEmail: cfg.Booking.OwnerEmail,
		OwnerName:  cfg.Booking.OwnerName,
		Timezone:   cfg.Booking.Timezone,
	}, logging.Component(base, "notify"))

	eventBus := events.NewEventBus()
	startAuditWorker(ctx, cfg, eventBus, redisClient, loc, googleOpts, logging.Component(base, "audit"))

	bookingService := service.NewBookingService(service.Deps{
		Store:      db,
		Calendar:   calendar,
		Tokens:     token.NewApprovalTokenIssuer(db),
		References: token.NewReferenceIssuer(db),
		Notifier:   dispatcher,
		Limiter:    initRateLimiter(redisClient, logging.Component(base, "rate-limit")),
		Events:     eventBus,
	}, service.Config{
		Location:           loc,
		CalendarID:         cfg.Google.CalendarID,
		BaseURL:            cfg.Server.BaseURL,
		MaxDurationMinutes: cfg.Booking.MaxDurationMinutes,
		ExternalTimeout:    cfg.Booking.ExternalTimeout,
		TokenTTL:           cfg.Booking.TokenTTL,
		NotifyDeclines:     cfg.Booking.NotifyDeclinesEnabled(),
		RequestsPerHour:    cfg.Booking.RequestsPerHour,
	}, logging.Component(base, "booking"))

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg, bookingService, db, base)
	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, baseLogger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		// The failover limiter and the in-memory audit queue cover a late start.
		logger.Warn().Err(err).Msg("redis ping failed, will retry on use")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initRateLimiter(redisClient *redis.Client, logger *zerolog.Logger) domain.RateLimiter {
	memory := repository.NewMemoryRateLimiter()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(redisClient), memory, logger)
}

func initGoogleClient(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) ([]option.ClientOption, error) {
	client, err := google.NewHTTPClient(ctx, google.Credentials{
		CredentialsFile: cfg.Google.CredentialsFile,
		TokenFile:       cfg.Google.TokenFile,
		ImpersonateUser: cfg.Google.ImpersonateUser,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithHTTPClient(client)}, nil
}

func initMailer(ctx context.Context, cfg *config.Config, googleOpts []option.ClientOption) (domain.MailSender, error) {
	switch cfg.Booking.MailTransport {
	case config.MailTransportSMTP:
		return notify.NewSMTPSender(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Username,
			cfg.SMTP.Password,
			cfg.SMTP.SSL,
			cfg.Booking.SenderEmail,
		), nil
	default:
		sender, err := google.NewGmailSender(ctx, cfg.Booking.SenderEmail, googleOpts...)
		if err != nil {
			return nil, fmt.Errorf("init gmail: %w", err)
		}
		return sender, nil
	}
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) domain.OperatorAlerter {
	if cfg.Telegram.BotToken == "" {
		return nil
	}

	// The library default client has no timeout.
	client := &http.Client{Timeout: cfg.Booking.ExternalTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, operator alerts go by email only")
		return nil
	}
	bot.Debug = cfg.Telegram.Debug
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram alerts enabled")
	return notify.NewTelegramAlerter(bot, cfg.Telegram.OperatorChatID)
}

func startAuditWorker(
	ctx context.Context,
	cfg *config.Config,
	bus *events.EventBus,
	redisClient *redis.Client,
	loc *time.Location,
	googleOpts []option.ClientOption,
	logger *zerolog.Logger,
) {
	if cfg.Audit.SpreadsheetID == "" {
		return
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Audit.SpreadsheetID, cfg.Audit.SheetName, googleOpts...)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without audit log")
		return
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("audit sheet header check failed")
	}

	auditWorker := worker.NewAuditWorker(sheets, redisClient, worker.DefaultRetryPolicy(), loc, logger)
	auditWorker.Subscribe(bus)
	go auditWorker.Start(ctx)
	logger.Info().Str("sheet", cfg.Audit.SheetName).Msg("audit log enabled")
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.Server.Port).Str("base_url", cfg.Server.BaseURL).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second+cfg.Booking.ExternalTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
