// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/logger"
)

// deathTTL matches how long RQ keeps the hash of a worker that shut down cleanly.
const deathTTL = 60 * time.Second

// RedisRegistry reads the RQ worker registry from Redis.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	logger *zap.SugaredLogger
}

var _ Registry = (*RedisRegistry)(nil)

// NewClient parses a redis:// URL and returns a client for it.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisRegistry wraps client. An empty keyPrefix falls back to the RQ default.
func NewRedisRegistry(client redis.UniversalClient, keyPrefix string) *RedisRegistry {
	if keyPrefix == "" {
		keyPrefix = constants.DefaultRegistryKeyPrefix
	}
	return &RedisRegistry{
		client: client,
		prefix: keyPrefix,
		logger: logger.For(logger.ComponentRegistry),
	}
}

func (r *RedisRegistry) workersKey() string {
	return r.prefix + "workers"
}

func (r *RedisRegistry) queueWorkersKey(queue string) string {
	return r.prefix + "workers:" + queue
}

// WorkerKey returns the hash key of the worker called name.
func (r *RedisRegistry) WorkerKey(name string) string {
	return r.prefix + "worker:" + name
}

// List returns the live registrations owned by host. Set members whose hash
// has already expired are not live and are skipped.
func (r *RedisRegistry) List(ctx context.Context, host string) ([]Registration, error) {
	keys, err := r.client.SMembers(ctx, r.workersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", r.workersKey(), err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("error reading worker hashes: %w", err)
	}

	var regs []Registration
	expired := 0
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("error reading %s: %w", keys[i], err)
		}
		if len(fields) == 0 {
			expired++
			continue
		}

		reg := parseRegistration(keys[i], r.prefix, fields)
		if !reg.OwnedBy(host) {
			continue
		}
		regs = append(regs, reg)
	}

	r.logger.Debugf("Registry holds %d keys, %d live for host %s, %d expired", len(keys), len(regs), host, expired)

	return regs, nil
}

// Deregister removes reg the way a worker does on clean shutdown: drop it from
// the worker sets, stamp its death and let the hash expire.
func (r *RedisRegistry) Deregister(ctx context.Context, host string, reg Registration) error {
	key := reg.Key
	if key == "" {
		key = r.WorkerKey(reg.Name)
	}
	if reg.Name == "" {
		reg.Name = strings.TrimPrefix(key, r.prefix+"worker:")
	}
	if !reg.OwnedBy(host) {
		return fmt.Errorf("%w: %s is not a worker of %s", ErrForeignHost, key, host)
	}

	// a missing hash means only the set memberships are left
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("error reading %s: %w", key, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.workersKey(), key)
		for _, queue := range reg.Queues {
			pipe.SRem(ctx, r.queueWorkersKey(queue), key)
		}
		if exists > 0 {
			pipe.HSet(ctx, key, "death", formatTimestamp(time.Now()))
			pipe.Expire(ctx, key, deathTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error deregistering %s: %w", key, err)
	}

	r.logger.Infof("Deregistered stale worker %s (pid: %d)", reg.Name, reg.PID)
	return nil
}

// Ping checks that Redis answers.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("error pinging redis: %w", err)
	}
	return nil
}
