package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlinux/telempostd/internal/auth"
)

func TestRedisBlacklist_RevokeThenCheck(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := auth.NewRedisBlacklist(rdb)

	ctx := context.Background()
	jti := "11112222-3333-4444-5555-666677778888"

	blacklisted, err := bl.IsBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.False(t, blacklisted, "jti must not be blacklisted before revocation")

	require.NoError(t, bl.Revoke(ctx, jti, time.Minute))

	blacklisted, err = bl.IsBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.True(t, blacklisted, "jti must be blacklisted immediately after revocation")
}

func TestRedisBlacklist_RevocationExpires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := auth.NewRedisBlacklist(rdb)

	ctx := context.Background()
	jti := "aaaabbbb-cccc-dddd-eeee-ffff00001111"

	require.NoError(t, bl.Revoke(ctx, jti, time.Second))
	mr.FastForward(2 * time.Second)

	blacklisted, err := bl.IsBlacklisted(ctx, jti)
	require.NoError(t, err)
	assert.False(t, blacklisted, "revocation must expire once its ttl elapses")
}
