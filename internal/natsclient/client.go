package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client wraps a NATS connection with JetStream publishing and graceful
// drain/close, matching the reconnect and lifecycle handling the rest of
// this service's dependencies favor over bare client libraries.
type Client struct {
	cfg  Config
	conn *natsgo.Conn
	js   jetstream.JetStream
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	return &Client{cfg: cfg, log: log.With(slog.String("component", "nats_client"))}
}

// Connect establishes the NATS connection and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	opts := []natsgo.Option{
		natsgo.Name("conversation-ingestor"),
		natsgo.Timeout(c.cfg.ConnectTimeout),
		natsgo.ReconnectWait(c.cfg.ReconnectWait),
		natsgo.MaxReconnects(c.cfg.MaxReconnects),
		natsgo.DisconnectErrHandler(c.onDisconnect),
		natsgo.ReconnectHandler(c.onReconnect),
		natsgo.ClosedHandler(c.onClosed),
	}

	conn, err := natsgo.Connect(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect to %s: %w", c.cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("jetstream init: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.log.InfoContext(ctx, "connected to NATS", slog.String("url", c.cfg.URL))
	return nil
}

// Publish publishes data to subject via JetStream and waits for the
// broker's ack, bounded by the configured publish timeout.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return ErrNotConnected
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	_, err := js.Publish(pubCtx, subject, data)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (c *Client) JetStream() jetstream.JetStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// Drain gracefully closes the connection, waiting for in-flight
// publishes/deliveries to complete.
func (c *Client) Drain() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}

	deadline := time.After(c.cfg.DrainTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			conn.Close()
			return ErrDrainTimeout
		case <-ticker.C:
			if conn.IsClosed() {
				return nil
			}
		}
	}
}

func (c *Client) onDisconnect(conn *natsgo.Conn, err error) {
	if err != nil {
		c.log.Warn("nats disconnected", slog.String("error", err.Error()))
	}
}

func (c *Client) onReconnect(conn *natsgo.Conn) {
	c.log.Info("nats reconnected", slog.String("url", conn.ConnectedUrl()))
}

func (c *Client) onClosed(conn *natsgo.Conn) {
	c.log.Info("nats connection closed")
}
