package redis

import (
	"context"
	"log"

	"permission-service/internal/config"

	"github.com/redis/go-redis/v9"
)

var Redis_Client *redis.Client

// Connect builds the package client. A failed ping is logged but not fatal;
// the cache layer degrades to recomputing every resolution.
func Connect(cfg config.RedisConfig) {
	Redis_Client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := Redis_Client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Error connect to Redis: %s", err)
	} else {
		log.Println("Successfully connected to Redis")
	}
}

func Disconnect() {
	if Redis_Client != nil {
		if err := Redis_Client.Close(); err != nil {
			log.Printf("Error closing Redis client: %s", err)
		}
	}
}
