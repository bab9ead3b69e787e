package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/metrics"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
	"github.com/shrimpsizemoose/taslim/internal/upload"
)

type Store interface {
	ExpireDue(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
	ListSubmissionsBefore(ctx context.Context, before time.Time) ([]models.Submission, error)
	DeleteSubmission(ctx context.Context, id int64) error
}

// sweepable is implemented by attempt stores that keep their own expiry
// bookkeeping in process memory.
type sweepable interface {
	Sweep() int
}

type Options struct {
	Interval time.Duration
	// OTPRetention is how long an expired OTP is kept after expires_at.
	OTPRetention time.Duration
	// SubmissionRetention of zero keeps submissions forever.
	SubmissionRetention time.Duration
}

type Report struct {
	Expired            int
	Purged             int
	SubmissionsDeleted int
	CountersSwept      int
}

type Sweeper struct {
	store     Store
	blobs     upload.BlobStore
	counter   ratelimit.Counter
	opts      Options
	scheduler *gocron.Scheduler
	now       func() time.Time
}

func NewSweeper(store Store, blobs upload.BlobStore, counter ratelimit.Counter, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Sweeper{
		store:   store,
		blobs:   blobs,
		counter: counter,
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start schedules RunOnce every Interval. Runs never overlap; a slow run makes
// the next tick skip.
func (s *Sweeper) Start(ctx context.Context) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Every(s.opts.Interval).Do(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			logger.Error.Printf("Sweeper run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	scheduler.StartAsync()
	s.scheduler = scheduler
	logger.Info.Printf("Sweeper started, interval %s", s.opts.Interval)
	return nil
}

func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
}

// RunOnce expires due OTPs, purges old expired ones and, when configured,
// drops submissions past retention together with their blobs. Every step is
// idempotent. Without a store only the attempt counter is swept, which is
// all the bot process needs.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	var errs []error
	now := s.now()

	if s.store != nil {
		s.sweepStore(ctx, now, &report, &errs)
	}

	if c, ok := s.counter.(sweepable); ok {
		report.CountersSwept = c.Sweep()
	}

	if report.Expired+report.Purged+report.SubmissionsDeleted > 0 {
		logger.Info.Printf("Sweeper: expired=%d purged=%d submissions_deleted=%d",
			report.Expired, report.Purged, report.SubmissionsDeleted)
	} else {
		logger.Debug.Printf("Sweeper: nothing to do, %d counters dropped", report.CountersSwept)
	}
	return report, errors.Join(errs...)
}

func (s *Sweeper) sweepStore(ctx context.Context, now time.Time, report *Report, errs *[]error) {
	expired, err := s.store.ExpireDue(ctx)
	if err != nil {
		*errs = append(*errs, err)
	}
	report.Expired = expired
	metrics.SweptOTPsTotal.WithLabelValues("expired").Add(float64(expired))

	if s.opts.OTPRetention > 0 {
		purged, err := s.store.PurgeExpired(ctx, now.Add(-s.opts.OTPRetention))
		if err != nil {
			*errs = append(*errs, err)
		}
		report.Purged = purged
		metrics.SweptOTPsTotal.WithLabelValues("purged").Add(float64(purged))
	}

	if s.opts.SubmissionRetention > 0 {
		deleted, err := s.purgeSubmissions(ctx, now.Add(-s.opts.SubmissionRetention))
		if err != nil {
			*errs = append(*errs, err)
		}
		report.SubmissionsDeleted = deleted
	}
}

// purgeSubmissions removes the blob before the row so a crash in between
// leaves a row that the next run retries.
func (s *Sweeper) purgeSubmissions(ctx context.Context, before time.Time) (int, error) {
	subs, err := s.store.ListSubmissionsBefore(ctx, before)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sub := range subs {
		if s.blobs != nil {
			if err := s.blobs.Delete(ctx, sub.FilePath); err != nil {
				return deleted, fmt.Errorf("submission %d: %w", sub.ID, err)
			}
		}
		if err := s.store.DeleteSubmission(ctx, sub.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
