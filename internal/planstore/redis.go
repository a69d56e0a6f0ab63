package planstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dgallion1/mdplan/internal/plan"
)

const redisPrefix = "mdplan:"

// Redis is a Store backed by a Redis server. Plans live under
// mdplan:plan:{hash} and artifacts under mdplan:artifact:{key}.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr, which may be host:port or a redis:// URL.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	opts, err := redisOptions(addr)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func redisOptions(addr string) (*redis.Options, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if !strings.HasPrefix(addr, "redis://") && !strings.HasPrefix(addr, "rediss://") {
		return &redis.Options{Addr: addr}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts := &redis.Options{Addr: u.Host}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid redis database %q", db)
		}
		opts.DB = n
	}
	return opts, nil
}

func planKey(hash string) string { return redisPrefix + "plan:" + hash }

func artifactKey(key string) string { return redisPrefix + "artifact:" + key }

func (r *Redis) GetPlan(ctx context.Context, hash string) (*plan.Plan, error) {
	data, err := r.client.Get(ctx, planKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return decodePlan(data)
}

func (r *Redis) PutPlan(ctx context.Context, p *plan.Plan) error {
	data, err := encodePlan(p)
	if err != nil {
		return err
	}
	prev, err := r.GetPlan(ctx, p.ContentHash)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case staleArtifacts(prev, p):
		if err := r.dropArtifacts(ctx, p.ContentHash); err != nil {
			return err
		}
	}
	if err := r.client.Set(ctx, planKey(p.ContentHash), data, 0).Err(); err != nil {
		return fmt.Errorf("put plan: %w", err)
	}
	return nil
}

func (r *Redis) DeletePlan(ctx context.Context, hash string) error {
	n, err := r.client.Del(ctx, planKey(hash)).Result()
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return r.dropArtifacts(ctx, hash)
}

func (r *Redis) GetArtifact(ctx context.Context, key string) (string, error) {
	text, err := r.client.Get(ctx, artifactKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get artifact: %w", err)
	}
	return text, nil
}

func (r *Redis) PutArtifact(ctx context.Context, key, text string) error {
	if err := r.client.Set(ctx, artifactKey(key), text, 0).Err(); err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) dropArtifacts(ctx context.Context, hash string) error {
	pattern := artifactKey(artifactPrefix(hash)) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan artifacts: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete artifacts: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
