// Package natsclient wraps a JetStream-backed NATS connection used by the
// Side-Effect Dispatcher to publish data-lake events and classification
// jobs.
package natsclient

import "time"

// Config holds NATS connection and subject configuration.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	PublishTimeout time.Duration
	DrainTimeout   time.Duration

	DataLakeSubject       string
	ClassificationSubject string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return ErrInvalidConfig
	}
	if c.DataLakeSubject == "" || c.ClassificationSubject == "" {
		return ErrInvalidConfig
	}
	return nil
}
