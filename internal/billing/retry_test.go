package billing

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]ErrorType{
		200: ErrorTypePermanent,
		400: ErrorTypePermanent,
		404: ErrorTypePermanent,
		408: ErrorTypeRetryable,
		429: ErrorTypeRetryable,
		500: ErrorTypeRetryable,
		503: ErrorTypeRetryable,
	}
	for status, want := range cases {
		assert.Equal(t, want, ClassifyHTTPStatus(status), "status %d", status)
	}
}

func TestClassifyError_URLErrorIsPermanent(t *testing.T) {
	err := &url.Error{Op: "Post", URL: "://bad", Err: errors.New("missing protocol scheme")}
	assert.Equal(t, ErrorTypePermanent, ClassifyError(err))
}

func TestClassifyError_ConnectionResetIsRetryable(t *testing.T) {
	err := errors.New("read tcp: connection reset by peer")
	assert.Equal(t, ErrorTypeRetryable, ClassifyError(err))
}

func TestClassifyError_TLSIsPermanent(t *testing.T) {
	err := errors.New("x509: certificate signed by unknown authority")
	assert.Equal(t, ErrorTypePermanent, ClassifyError(err))
}

func TestShouldRetry_StopsAtMaxAttempts(t *testing.T) {
	err := errors.New("connection refused")
	assert.False(t, ShouldRetry(3, 3, err))
	assert.True(t, ShouldRetry(2, 3, err))
}

func TestCalculateNextAttempt_HoldsLastDelay(t *testing.T) {
	delays := []time.Duration{time.Second, 5 * time.Second}
	before := time.Now()
	next := CalculateNextAttempt(5, delays)
	assert.WithinDuration(t, before.Add(5*time.Second), next, time.Second)
}
