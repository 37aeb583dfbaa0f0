package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a redis client from a redis:// URL. The client
// backs the reconciliation change feed.
func NewRedisClient(redisURL string) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("invalid redis URL: %w", err))
	}

	return redis.NewClient(opts)
}
