package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
)

type fakeCounterBackend struct {
	projects []durablestore.Project
	counts   map[uuid.UUID][]durablestore.ChannelResolutionCount
	countsErr error
}

func (f *fakeCounterBackend) ListProjects(ctx context.Context) ([]durablestore.Project, error) {
	return f.projects, nil
}

func (f *fakeCounterBackend) DailyChannelResolutionCounts(ctx context.Context, projectID uuid.UUID, date time.Time) ([]durablestore.ChannelResolutionCount, error) {
	if f.countsErr != nil {
		return nil, f.countsErr
	}
	return f.counts[projectID], nil
}

type fakePoster struct {
	calls int
	errs  []error
	lastReports []ChannelReport
}

func (f *fakePoster) Post(ctx context.Context, projectUUID uuid.UUID, reports []ChannelReport) error {
	defer func() { f.calls++ }()
	f.lastReports = reports
	if f.calls < len(f.errs) {
		return f.errs[f.calls]
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics("billing_test", prometheus.NewRegistry())
}

func noopBreaker() *CircuitBreaker {
	return NewCircuitBreaker(testBreakerConfig(), nil)
}

func TestAggregator_RunDaily_PostsPerProjectChannelCounts(t *testing.T) {
	projectID := uuid.New()
	channelID := uuid.New()
	counters := &fakeCounterBackend{
		projects: []durablestore.Project{{ID: projectID}},
		counts: map[uuid.UUID][]durablestore.ChannelResolutionCount{
			projectID: {{ChannelUUID: channelID, Resolved: 3, Unresolved: 2, HasChatsRooms: 1}},
		},
	}
	poster := &fakePoster{}

	aggregator := NewAggregator(counters, poster, noopBreaker(), 3, []time.Duration{time.Millisecond}, testMetrics(), testLogger())

	err := aggregator.RunDaily(context.Background(), time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, poster.calls)
	require.Len(t, poster.lastReports, 1)
	assert.Equal(t, channelID, poster.lastReports[0].ChannelUUID)
	assert.Equal(t, "2026-07-30", poster.lastReports[0].Date)
	assert.Equal(t, 3, poster.lastReports[0].ResolutionCount.Resolved)
}

func TestAggregator_RunDaily_SkipsProjectsWithNoActivity(t *testing.T) {
	projectID := uuid.New()
	counters := &fakeCounterBackend{projects: []durablestore.Project{{ID: projectID}}}
	poster := &fakePoster{}

	aggregator := NewAggregator(counters, poster, noopBreaker(), 3, nil, testMetrics(), testLogger())

	err := aggregator.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, poster.calls)
}

func TestAggregator_RunDaily_RetriesRetryableFailureThenSucceeds(t *testing.T) {
	projectID := uuid.New()
	counters := &fakeCounterBackend{
		projects: []durablestore.Project{{ID: projectID}},
		counts: map[uuid.UUID][]durablestore.ChannelResolutionCount{
			projectID: {{ChannelUUID: uuid.New(), Resolved: 1}},
		},
	}
	poster := &fakePoster{errs: []error{&StatusError{StatusCode: 503}}}

	aggregator := NewAggregator(counters, poster, noopBreaker(), 3, []time.Duration{time.Millisecond}, testMetrics(), testLogger())

	err := aggregator.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, poster.calls)
}

func TestAggregator_RunDaily_PermanentFailureDoesNotRetry(t *testing.T) {
	projectID := uuid.New()
	counters := &fakeCounterBackend{
		projects: []durablestore.Project{{ID: projectID}},
		counts: map[uuid.UUID][]durablestore.ChannelResolutionCount{
			projectID: {{ChannelUUID: uuid.New(), Resolved: 1}},
		},
	}
	poster := &fakePoster{errs: []error{&StatusError{StatusCode: 400}, &StatusError{StatusCode: 400}, &StatusError{StatusCode: 400}}}

	aggregator := NewAggregator(counters, poster, noopBreaker(), 3, []time.Duration{time.Millisecond}, testMetrics(), testLogger())

	err := aggregator.RunDaily(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, 1, poster.calls)
}

func TestAggregator_RunDaily_NoProjectsSkipsCountLookup(t *testing.T) {
	counters := &fakeCounterBackend{}
	counters.countsErr = errors.New("unused")
	poster := &fakePoster{}
	aggregator := NewAggregator(counters, poster, noopBreaker(), 3, nil, testMetrics(), testLogger())

	err := aggregator.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)
}
