package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
)

const dateLayout = "2006-01-02"

// CounterBackend is the pluggable source of per-channel resolution
// counts. durablestore.Store satisfies it directly; a cache-backed
// implementation can be substituted without touching the aggregator.
type CounterBackend interface {
	ListProjects(ctx context.Context) ([]durablestore.Project, error)
	DailyChannelResolutionCounts(ctx context.Context, projectID uuid.UUID, date time.Time) ([]durablestore.ChannelResolutionCount, error)
}

// Poster sends one project's report batch to the billing API.
type Poster interface {
	Post(ctx context.Context, projectUUID uuid.UUID, reports []ChannelReport) error
}

// Aggregator runs the daily per-project billing rollup: tally resolutions
// by channel for a target date, then POST the batch with retry and
// circuit-breaker protection.
type Aggregator struct {
	counters       CounterBackend
	poster         Poster
	breaker        *CircuitBreaker
	maxAttempts    int
	retryDelays    []time.Duration
	metrics        *observability.Metrics
	log            *slog.Logger
}

func NewAggregator(counters CounterBackend, poster Poster, breaker *CircuitBreaker, maxAttempts int, retryDelays []time.Duration, metrics *observability.Metrics, log *slog.Logger) *Aggregator {
	return &Aggregator{
		counters:    counters,
		poster:      poster,
		breaker:     breaker,
		maxAttempts: maxAttempts,
		retryDelays: retryDelays,
		metrics:     metrics,
		log:         log.With(slog.String("component", "billing_aggregator")),
	}
}

// RunDaily runs the rollup for every known project against the target
// date (defaulting to yesterday when the zero value is passed).
func (a *Aggregator) RunDaily(ctx context.Context, target time.Time) error {
	if target.IsZero() {
		target = time.Now().UTC().AddDate(0, 0, -1)
	}

	projects, err := a.counters.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	var firstErr error
	for _, project := range projects {
		if err := a.runProject(ctx, project.ID, target); err != nil {
			a.log.ErrorContext(ctx, "billing rollup failed",
				slog.String("project_id", project.ID.String()), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Aggregator) runProject(ctx context.Context, projectID uuid.UUID, target time.Time) error {
	counts, err := a.counters.DailyChannelResolutionCounts(ctx, projectID, target)
	if err != nil {
		return fmt.Errorf("aggregate counts for project %s: %w", projectID, err)
	}
	if len(counts) == 0 {
		return nil
	}

	reports := make([]ChannelReport, 0, len(counts))
	for _, c := range counts {
		reports = append(reports, ChannelReport{
			ChannelUUID: c.ChannelUUID,
			Date:        target.Format(dateLayout),
			ResolutionCount: ResolutionCount{
				Resolved:      c.Resolved,
				Unresolved:    c.Unresolved,
				HasChatsRooms: c.HasChatsRooms,
				Unclassified:  c.Unclassified,
			},
		})
	}

	return a.postWithRetry(ctx, projectID, reports)
}

func (a *Aggregator) postWithRetry(ctx context.Context, projectID uuid.UUID, reports []ChannelReport) error {
	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if !a.breaker.Allow() {
			a.metrics.BillingRequestsTotal.WithLabelValues("circuit_open").Inc()
			return fmt.Errorf("billing circuit open for project %s", projectID)
		}

		err := a.poster.Post(ctx, projectID, reports)
		if err == nil {
			a.breaker.RecordSuccess()
			a.metrics.BillingRequestsTotal.WithLabelValues("success").Inc()
			return nil
		}

		lastErr = err
		a.breaker.RecordFailure()
		a.metrics.BillingRequestsTotal.WithLabelValues("failure").Inc()

		if !shouldRetryPostError(err) {
			return err
		}

		next := CalculateNextAttempt(attempt, a.retryDelays)
		wait := time.Until(next)
		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("billing post for project %s exhausted %d attempts: %w", projectID, a.maxAttempts, lastErr)
}

func shouldRetryPostError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ClassifyHTTPStatus(statusErr.StatusCode) == ErrorTypeRetryable
	}
	return ClassifyError(err) == ErrorTypeRetryable
}
