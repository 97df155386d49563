// Package auth revokes leaked admin bearer tokens by jti without requiring
// a daemon restart, adapted from the teacher's multi-tenant
// internal/auth.RedisBlacklist down to a single flat keyspace — this daemon
// has one admin surface per instance, no tenants to scope revocations by.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist checks and records revoked admin token IDs.
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// RedisBlacklist backs TokenBlacklist with Redis key expiry: a revoked jti
// is remembered only until the token itself would have expired anyway.
type RedisBlacklist struct {
	client *redis.Client
}

// NewRedisBlacklist returns a RedisBlacklist using client.
func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (r *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.client.Set(ctx, blacklistKey(jti), "revoked", ttl).Err()
}

func blacklistKey(jti string) string {
	return fmt.Sprintf("telempostd:blacklist:%s", jti)
}
