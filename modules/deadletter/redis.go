// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package deadletter

import (
	"context"
	"fmt"
	"strings"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/setting"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps incidents in a redis list shared by every instance
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

var _ Store = &RedisStore{}

// toUniversalOptions accepts redis:// URIs and the old "addrs=... db=..." format
func toUniversalOptions(connStr string) (*redis.UniversalOptions, error) {
	if strings.HasPrefix(connStr, "redis://") || strings.HasPrefix(connStr, "rediss://") {
		opt, err := redis.ParseURL(connStr)
		if err != nil {
			return nil, err
		}
		return &redis.UniversalOptions{
			Addrs:     []string{opt.Addr},
			Username:  opt.Username,
			Password:  opt.Password,
			DB:        opt.DB,
			TLSConfig: opt.TLSConfig,
		}, nil
	}

	_, addrs, password, db, err := setting.ParseQueueConnStr(connStr)
	if err != nil {
		return nil, err
	}
	if addrs == "" {
		return nil, fmt.Errorf("invalid redis connection string: %q", connStr)
	}
	return &redis.UniversalOptions{
		Addrs:    strings.Split(addrs, ","),
		Password: password,
		DB:       db,
	}, nil
}

// NewRedisStore connects to redis, the connection is checked with a PING
func NewRedisStore(connStr, key string) (*RedisStore, error) {
	opts, err := toUniversalOptions(connStr)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Push(ctx context.Context, incident *bulk.Incident) error {
	data, err := encodeIncident(incident)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key, data).Err()
}

func (s *RedisStore) Pop(ctx context.Context) (*bulk.Incident, error) {
	data, err := s.client.LPop(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIncident(data)
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*bulk.Incident, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	values, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	incidents := make([]*bulk.Incident, 0, len(values))
	for _, v := range values {
		incident, err := decodeIncident([]byte(v))
		if err != nil {
			return incidents, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	cnt, err := s.client.LLen(ctx, s.key).Result()
	return int(cnt), err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
