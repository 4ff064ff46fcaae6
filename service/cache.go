package service

import (
	"context"
	"errors"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/redis/go-redis/v9"
)

// ResultCache 修复结果缓存，未命中时返回 nil, nil
type ResultCache interface {
	GetResult(ctx context.Context, key string) ([]byte, error)
	SetResult(ctx context.Context, key string, data []byte) error
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetResult 从缓存获取修复结果 PNG
func (s *RedisService) GetResult(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, "inpaint:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	return data, nil
}

// SetResult 设置修复结果到缓存
func (s *RedisService) SetResult(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, "inpaint:"+key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
