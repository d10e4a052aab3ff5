package experiment

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisAddress = "localhost:6379"
	redisKeyPrefix      = "experiment"
)

// RedisSink stores each document as a Redis string.
type RedisSink struct {
	*baseSink

	address       string
	password      string
	databaseIndex int

	redisClient *redis.Client
}

func NewRedisSink(address string, password string, databaseIndex int) *RedisSink {
	if address == "" {
		address = defaultRedisAddress
	}

	return &RedisSink{
		baseSink:      newBaseSink(),
		address:       address,
		password:      password,
		databaseIndex: databaseIndex,
	}
}

// RedisKey returns the Redis key the document under key is stored at.
func RedisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, key.Project, key.ApplicationID, key.RunLabel)
}

// Connect creates the Redis client and checks that the server is reachable.
func (s *RedisSink) Connect(ctx context.Context) error {
	s.redisClient = redis.NewClient(&redis.Options{
		Addr:     s.address,
		Password: s.password,
		DB:       s.databaseIndex,
	})

	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		s.logger.Error("Failed to connect to Redis.", zap.String("address", s.address), zap.Error(err))
		return err
	}

	s.logger.Debug("Connected to Redis.", zap.String("address", s.address), zap.Int("db", s.databaseIndex))
	return nil
}

func (s *RedisSink) Put(ctx context.Context, key Key, doc []byte) error {
	redisKey := RedisKey(key)
	if err := s.redisClient.Set(ctx, redisKey, doc, 0).Err(); err != nil {
		s.logger.Error("Failed to write experiment document to Redis.",
			zap.String("redis_key", redisKey), zap.Error(err))
		return err
	}

	s.logger.Debug("Wrote experiment document to Redis.",
		zap.String("redis_key", redisKey), zap.Int("num_bytes", len(doc)))
	return nil
}

func (s *RedisSink) Close() error {
	if s.redisClient == nil {
		return nil
	}
	return s.redisClient.Close()
}
