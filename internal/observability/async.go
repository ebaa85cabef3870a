package observability

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/weni-ai/conversation-ingestor/internal/logging"
)

// AsyncContextOptions seeds the background context for a goroutine that
// outlives the request that spawned it — an ingestion group worker, the
// migration service, or the billing aggregator's daily run.
type AsyncContextOptions struct {
	Logger    *slog.Logger
	Component string
	GroupKey  string
	Extra     []slog.Attr
}

// AsyncContext builds a context.Background() carrying a logger enriched
// with the given attributes, for use by goroutines with no parent request
// context.
func AsyncContext(opts AsyncContextOptions) context.Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2+len(opts.Extra))
	if opts.Component != "" {
		attrs = append(attrs, slog.String("component", opts.Component))
	}
	if opts.GroupKey != "" {
		attrs = append(attrs, slog.String("group_key", opts.GroupKey))
	}
	for _, attr := range opts.Extra {
		attrs = append(attrs, attr)
	}
	return logging.WithLogger(context.Background(), logger.With(attrs...))
}

// CaptureWorkerException reports err to Sentry tagged with the component
// and group key that produced it. A no-op when Sentry isn't configured.
func CaptureWorkerException(ctx context.Context, component, groupKey string, err error) {
	if err == nil {
		return
	}
	if hub := sentry.CurrentHub(); hub == nil || hub.Client() == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if component != "" {
			scope.SetTag("component", component)
		}
		if groupKey != "" {
			scope.SetTag("group_key", groupKey)
		}
		scope.SetContext("worker", map[string]any{
			"component": component,
			"group_key": groupKey,
		})
		sentry.CaptureException(err)
	})
}
