// Package sentryinit initializes the Sentry client used by
// observability.CaptureWorkerException to report background-goroutine
// failures (migration, classification, billing) that no HTTP response
// carries back to a caller.
package sentryinit

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled atomic.Bool

// Init configures the global Sentry client. A blank dsn disables Sentry
// entirely; Enabled and CaptureLifecycleEvent become no-ops.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		enabled.Store(false)
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		enabled.Store(false)
		return err
	}
	enabled.Store(true)
	return nil
}

func Enabled() bool {
	return enabled.Load()
}

// CaptureLifecycleEvent reports a startup/shutdown marker, tagged with the
// given metadata, so a Sentry release timeline shows when this instance
// came up and went down.
func CaptureLifecycleEvent(phase string, tags map[string]string, extras map[string]any) {
	if !Enabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("event", "lifecycle")
		scope.SetTag("lifecycle_phase", phase)
		scope.SetLevel(sentry.LevelInfo)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureMessage(fmt.Sprintf("conversation_ingestor.lifecycle.%s", phase))
	})
}

func Flush(timeout time.Duration) {
	if !Enabled() {
		return
	}
	sentry.Flush(timeout)
}
