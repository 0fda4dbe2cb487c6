package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a shared L2 embedding cache. Vectors are stored as
// little-endian float32 runs; a lookup that fails for any reason is
// treated as a miss so Redis outages degrade to recomputation.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// RedisConfig holds Redis connection settings for the embedding cache.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, config *RedisConfig) (*RedisCache, error) {
	if config == nil || config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "knowledge-agent:"
	}
	return &RedisCache{
		client: client,
		logger: slog.Default().With("component", "redis-cache"),
		prefix: prefix,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("redis get failed", "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		r.logger.Warn("corrupt cached vector, dropping", "key", key, "error", err)
		r.client.Del(ctx, r.prefix+key)
		return nil, false
	}
	return vec, true
}

func (r *RedisCache) Set(ctx context.Context, key string, vector []float32, ttl time.Duration) {
	if err := r.client.Set(ctx, r.prefix+key, encodeVector(vector), ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "error", err)
	}
}

// Close releases the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
