package pointconversion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stepchange-tokyo/pointsconversion/lib/scrapers/spat4"
	"github.com/stepchange-tokyo/pointsconversion/lib/timezone"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("services/pointconversion")

// SessionClient is the slice of the spat4 client the account runner drives.
type SessionClient interface {
	Login(ctx context.Context) error
	ConvertPoints(ctx context.Context) (spat4.ConversionSummary, error)
	Logout(ctx context.Context) error
}

// ClientFactory builds a fresh session client for one account. Every
// firing gets new clients so no cookie state leaks between runs.
type ClientFactory func(account spat4.Account) (SessionClient, error)

type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

type Options struct {
	DailyConversionTime TimeOfDay
	MinStartDelay       time.Duration
	MaxStartDelay       time.Duration
}

// Service fires one conversion batch per day at the configured Tokyo
// wall-clock time, one concurrent jittered runner per account.
type Service struct {
	accounts []spat4.Account
	opts     Options
	factory  ClientFactory
	cancel   context.CancelFunc
}

func NewService(accounts []spat4.Account, opts Options, factory ClientFactory) (*Service, error) {
	if opts.MinStartDelay > opts.MaxStartDelay {
		return nil, fmt.Errorf("pointconversion: min start delay %s exceeds max %s", opts.MinStartDelay, opts.MaxStartDelay)
	}
	at := opts.DailyConversionTime
	if at.Hour < 0 || at.Hour > 23 || at.Minute < 0 || at.Minute > 59 {
		return nil, fmt.Errorf("pointconversion: invalid daily conversion time %02d:%02d", at.Hour, at.Minute)
	}
	return &Service{
		accounts: accounts,
		opts:     opts,
		factory:  factory,
	}, nil
}

// Start arms the daily trigger and returns immediately.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop disarms the trigger and cancels in-flight runs. It does not wait
// for them to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Service) run(ctx context.Context) {
	due := nextDue(timezone.Now(), s.opts.DailyConversionTime)
	slog.Info("daily point conversion armed", "due", due, "accounts", len(s.accounts))

	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// rearm before dispatching so a slow batch never shifts the schedule
			timer.Reset(24 * time.Hour)
			go s.convertAll(ctx)
		}
	}
}

// nextDue computes the next occurrence of the configured wall-clock time
// relative to now. An exact match rolls over to tomorrow.
func nextDue(now time.Time, at TimeOfDay) time.Time {
	due := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())
	if !due.After(now) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}

// convertAll runs one firing: every account concurrently, awaited only so
// the batch outcome can be logged.
func (s *Service) convertAll(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "service:convertAll")
	defer span.End()

	slog.InfoContext(ctx, "starting conversion batch", "accounts", len(s.accounts))

	var group errgroup.Group
	for _, account := range s.accounts {
		group.Go(func() error {
			return s.convertAccount(ctx, account)
		})
	}
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion batch had failures")
		slog.ErrorContext(ctx, "conversion batch had failures", "err", err)
		return
	}
	slog.InfoContext(ctx, "conversion batch finished")
}

// convertAccount runs one account's full pipeline. All failures are
// contained here; the returned error exists only for batch logging.
func (s *Service) convertAccount(ctx context.Context, account spat4.Account) error {
	timer := time.NewTimer(startDelay(s.opts.MinStartDelay, s.opts.MaxStartDelay))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// shutdown during the jitter wait is not an error
		return nil
	case <-timer.C:
	}

	client, err := s.factory(account)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build session client", "account", account.Number, "err", err)
		return err
	}

	if err := client.Login(ctx); err != nil {
		slog.ErrorContext(ctx, "login failed", "account", account.Number, "err", err)
		return err
	}
	summary, err := client.ConvertPoints(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "point conversion failed", "account", account.Number, "err", err)
		return err
	}
	if err := client.Logout(ctx); err != nil {
		slog.ErrorContext(ctx, "logout failed", "account", account.Number, "err", err)
		return err
	}

	slog.InfoContext(ctx, "full point conversion completed",
		"account", account.Number,
		"completed", summary.Completed,
		"rounds", summary.Rounds,
		"start_balance", summary.StartBalance,
		"end_balance", summary.EndBalance,
	)
	return nil
}

func startDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	ms, err := random.IntRange(int(min/time.Millisecond), int(max/time.Millisecond)+1)
	if err != nil {
		return min
	}
	return time.Duration(ms) * time.Millisecond
}
