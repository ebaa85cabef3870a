package billing

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrorType classifies an error (or HTTP status) for the billing client's
// retry loop.
type ErrorType int

const (
	ErrorTypeRetryable ErrorType = iota
	ErrorTypePermanent
)

// CalculateNextAttempt returns when the next retry should fire, using the
// configured backoff schedule and holding at the last delay once attempts
// exceed it.
func CalculateNextAttempt(attemptCount int, retryDelays []time.Duration) time.Time {
	if len(retryDelays) == 0 {
		return time.Now()
	}
	if attemptCount >= len(retryDelays) {
		return time.Now().Add(retryDelays[len(retryDelays)-1])
	}
	return time.Now().Add(retryDelays[attemptCount])
}

// ShouldRetry reports whether another attempt should be made.
func ShouldRetry(attemptCount, maxAttempts int, err error) bool {
	if err == nil || attemptCount >= maxAttempts {
		return false
	}
	return ClassifyError(err) == ErrorTypeRetryable
}

// ClassifyError classifies a transport-level error as retryable or
// permanent. Network timeouts, connection resets, and DNS failures are
// retryable; malformed URLs and TLS/certificate errors are not.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	// *url.Error itself satisfies net.Error, so it is inspected first: only
	// a timeout or a network failure underneath it is retryable.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var innerNetErr net.Error
		if urlErr.Timeout() || errors.As(urlErr.Err, &innerNetErr) ||
			(urlErr.Err != nil && isConnectionError(urlErr.Err)) {
			return ErrorTypeRetryable
		}
		return ErrorTypePermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeRetryable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeRetryable
	}

	if isConnectionError(err) {
		return ErrorTypeRetryable
	}
	if isTLSError(err) {
		return ErrorTypePermanent
	}

	return ErrorTypeRetryable
}

func isConnectionError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused", "connection reset", "broken pipe",
		"no route to host", "network is unreachable",
		"connection timed out", "i/o timeout", "eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func isTLSError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"tls", "certificate", "x509", "handshake failure",
		"bad certificate", "unknown authority",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// ClassifyHTTPStatus classifies a billing API response status as
// retryable or permanent. 408, 429 and 5xx are retryable; everything else
// (including 2xx, which needs no retry) is treated as terminal.
func ClassifyHTTPStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 408, statusCode == 429:
		return ErrorTypeRetryable
	case statusCode >= 500 && statusCode < 600:
		return ErrorTypeRetryable
	default:
		return ErrorTypePermanent
	}
}
