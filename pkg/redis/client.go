package redis

import (
	"replygate/pkg/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a go-redis client from cfg.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
