// Package app assembles the service graph shared by the server, worker and
// CLI binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/auth"
	"github.com/dharsanguruparan/VaultSign/internal/completion"
	"github.com/dharsanguruparan/VaultSign/internal/compose"
	"github.com/dharsanguruparan/VaultSign/internal/config"
	"github.com/dharsanguruparan/VaultSign/internal/database"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/notify"
	"github.com/dharsanguruparan/VaultSign/internal/positions"
	"github.com/dharsanguruparan/VaultSign/internal/processing"
	"github.com/dharsanguruparan/VaultSign/internal/queue"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/signing"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
	"github.com/dharsanguruparan/VaultSign/internal/tasks"
)

// App holds the wired services. Close releases every connection it opened.
type App struct {
	Cfg *config.Config
	Log zerolog.Logger

	Repo       repository.Repository
	Store      storage.ObjectStore
	Events     events.Publisher
	Sender     notify.Sender
	Notifier   *notify.Notifier
	Verifier   *auth.JWTVerifier
	Extractor  *processing.Extractor
	Pipeline   *compose.Pipeline
	Positions  *positions.Store
	Completion *completion.Aggregator
	Signing    *signing.Service
	Tasks      *tasks.Service

	pool    *processing.Pool
	closers []func() error
}

// New connects the configured backends. Without a database URL the
// in-memory repository is used; without Redis, extraction runs on an
// in-process pool and email is sent inline.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Cfg, a.Log

	if cfg.DatabaseURL != "" {
		pool, err := a.connect(ctx)
		if err != nil {
			return err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		a.Repo = repository.NewPostgres(pool)
		log.Info().Msg("using postgres repository")
	} else {
		a.Repo = repository.NewMemory()
		log.Warn().Msg("no database configured, using in-memory repository")
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	a.Store = store

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		a.closers = append(a.closers, kp.Close)
		a.Events = kp
	} else {
		a.Events = events.Nop{}
	}

	if cfg.SMTPAddr != "" {
		sender, err := notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword)
		if err != nil {
			return fmt.Errorf("init smtp: %w", err)
		}
		a.Sender = sender
	} else {
		a.Sender = notify.LogSender{Log: log}
	}

	a.Extractor = processing.NewExtractor(a.Repo, a.Store, log)

	var (
		extract    tasks.ExtractQueue
		dispatcher notify.Dispatcher
	)
	if cfg.RedisAddr != "" {
		client := queue.NewClient(a.RedisOpt())
		a.closers = append(a.closers, client.Close)
		extract, dispatcher = client, client
	} else {
		a.pool = processing.NewPool(a.Extractor, cfg.WorkerConcurrency, log)
		extract = a.pool
		dispatcher = notify.Inline{Sender: a.Sender, Log: log}
	}
	a.Notifier = notify.NewNotifier(dispatcher, cfg.PublicBaseURL, log)

	a.Verifier = auth.NewJWTVerifier(cfg.JWTSecret)

	a.Pipeline = compose.New(a.Repo, a.Store, a.Events, cfg.ComposeConcurrency, log)
	a.Positions = positions.New(a.Repo, cfg.ConflictThreshold, log)
	a.Completion = completion.New(a.Repo, a.Pipeline, a.Notifier, a.Events, log)
	a.Signing = signing.NewService(a.Repo, a.Positions, a.Store, a.Completion, a.Events, cfg.SignedURLTTL, log)
	a.Tasks = tasks.New(tasks.Deps{
		Repo:        a.Repo,
		Store:       a.Store,
		Extract:     extract,
		Composer:    a.Pipeline,
		Mailer:      a.Notifier,
		Events:      a.Events,
		Log:         log,
		URLTTL:      cfg.SignedURLTTL,
		MaxFileSize: cfg.MaxFileSize,
	})
	return nil
}

func (a *App) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, a.Cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return pool, nil
}

// RedisOpt returns the asynq connection options from config.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Cfg.RedisAddr,
		Password: a.Cfg.RedisPassword,
		DB:       a.Cfg.RedisDB,
	}
}

// Start launches the in-process extraction pool when no queue is configured.
func (a *App) Start(ctx context.Context) {
	if a.pool != nil {
		a.pool.Start(ctx)
	}
}

// Downloads returns the object store when it serves its own signed URLs.
func (a *App) Downloads() (*storage.Memory, bool) {
	m, ok := a.Store.(*storage.Memory)
	return m, ok
}

// Close waits for in-flight email and closes connections in reverse order.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
