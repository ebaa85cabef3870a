package locks

import (
	"crypto/tls"

	redis "github.com/redis/go-redis/v9"

	"github.com/weni-ai/conversation-ingestor/internal/config"
)

// NewRedisClient builds the client RedisManager wraps, configured from the
// lock section of the service config.
func NewRedisClient(cfg config.LockConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLSEnabled {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(options)
}
