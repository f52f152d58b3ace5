package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/bulk"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dispatcher"
	"dialer-platform/internal/ingest"
	"dialer-platform/internal/lease"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/retry"
	"dialer-platform/internal/storage"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/transcripts"
	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// redisNS prefixes every key this process writes.
const redisNS utils.RedisNamespace = "dialer"

// app holds every long-lived component of the api process. No globals.
type app struct {
	db  *sql.DB
	rdb *redis.Client

	store      *storage.SQLStore
	auth       *auth.Manager
	audit      *audit.Service
	provider   telephony.Provider
	dispatcher *dispatcher.Dispatcher
	sequencer  *bulk.Sequencer
	scheduler  *retry.Scheduler
	ingestor   *ingest.Ingestor
	correlator *transcripts.Correlator
	queries    *transcripts.Service
	reports    *reporting.Service
	runner     *retry.Runner
	sweeper    *retry.Sweeper
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.auth, err = auth.NewManager(cfg.Auth); err != nil {
		return nil, fmt.Errorf("auth init: %w", err)
	}

	a.store, a.db, err = storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.audit = audit.NewService(a.store.AuditRepo())

	var (
		locker lease.Locker
		queue  retry.Queue
	)
	if cfg.RedisEnabled() {
		a.rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			return nil, fmt.Errorf("redis init: %w", err)
		}
		locker = lease.NewRedisLock(a.rdb, redisNS.Key("bulk", "lease"), cfg.Bulk.LeaseTTL, log)
		queue = retry.NewRedisQueue(a.rdb, redisNS.Prefix("retry"))
	} else {
		// Single-process mode: the lease lives in memory, the timer queue in SQL.
		locker = lease.NewMemoryLock()
		queue = a.store.RetryQueue()
	}

	var fetchUser, fetchPass string
	switch cfg.Telephony.Provider {
	case config.ProviderSimulated:
		a.provider = telephony.NewSimulatedProvider()
	default:
		a.provider, err = telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID:       cfg.Twilio.AccountSID,
			AuthToken:        cfg.Twilio.AuthToken,
			BaseURL:          cfg.Twilio.APIBaseURL,
			Timeout:          cfg.Telephony.Timeout,
			RatePerSecond:    cfg.Telephony.RatePerSecond,
			MachineDetection: cfg.Twilio.MachineDetection,
		})
		if err != nil {
			return nil, fmt.Errorf("telephony init: %w", err)
		}
		fetchUser, fetchPass = cfg.Twilio.AccountSID, cfg.Twilio.AuthToken
	}
	// Non-fatal: dispatch reports provider failures per call.
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.provider.HealthCheck(hctx); err != nil {
		log.Warn("telephony health check failed", "provider", a.provider.Name(), "err", err)
	}
	cancel()

	a.dispatcher = dispatcher.New(a.store, a.provider, dispatcher.Config{
		FromNumber:    cfg.Twilio.PhoneNumber,
		PublicBaseURL: cfg.App.PublicBaseURL,
		DefaultScript: cfg.Call.Script,
		CallTimeout:   cfg.Call.Timeout,
		Record:        cfg.Call.Record,
	}, log)
	a.sequencer = bulk.NewSequencer(a.store, a.dispatcher, locker, log, bulk.WithPacing(cfg.Bulk.DefaultPacing))

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		Delay:           cfg.Retry.Delay,
		Backoff:         cfg.Retry.Backoff,
		MaxDelay:        cfg.Retry.MaxDelay,
		RetryOnFailed:   cfg.Retry.OnFailed,
		RetryOnNoAnswer: cfg.Retry.OnNoAnswer,
		RetryOnBusy:     cfg.Retry.OnBusy,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	a.scheduler = retry.NewScheduler(a.store, queue, a.dispatcher, policy, log)
	a.runner = retry.NewRunner(queue, a.scheduler, log,
		retry.WithPollInterval(cfg.Retry.PollInterval),
		retry.WithWorkers(cfg.Retry.Workers),
		retry.WithExecutionTimeout(cfg.Retry.ExecutionTimeout),
	)
	if cfg.Retry.SweepSchedule != "" {
		if a.sweeper, err = retry.NewSweeper(a.scheduler, cfg.Retry.SweepSchedule, log); err != nil {
			return nil, err
		}
	}

	transcriber, err := newTranscriber(ctx, cfg.Transcriber)
	if err != nil {
		return nil, err
	}
	fetcher := transcripts.NewHTTPFetcher(fetchUser, fetchPass, cfg.Telephony.Timeout*6)
	a.correlator = transcripts.NewCorrelator(a.store, a.provider, fetcher, transcriber, log)
	a.queries = transcripts.NewService(a.store)

	a.ingestor = ingest.New(a.store, a.dispatcher.InFlight(), a.scheduler, a.correlator,
		ingest.Config{Transcribe: cfg.Call.Transcribe}, log)
	a.reports = reporting.NewService(a.store, a.scheduler, a.queries, a.dispatcher.InFlight())
	return a, nil
}

func newTranscriber(ctx context.Context, cfg config.TranscriberConfig) (transcripts.Transcriber, error) {
	switch cfg.Kind {
	case config.TranscriberGemini:
		g, err := transcripts.NewGeminiTranscriber(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini init: %w", err)
		}
		return g, nil
	default:
		return transcripts.SimulatedTranscriber{}, nil
	}
}
