// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	return NewRedisStorageWithClient(c, "kestrel:"), mr
}

func TestRedisStorage(t *testing.T) {
	t.Parallel()

	runStorageSuite(t, func(t *testing.T) Storage {
		t.Helper()
		s, _ := newTestRedisStorage(t)
		return s
	})
}

func TestRedisStorageKeysArePrefixed(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutCode(ctx, "abc", &CodeRecord{
		Grant:     Grant{GrantID: "g"},
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	assert.True(t, mr.Exists("kestrel:code:abc"))
}

func TestRedisStorageCodeExpiresWithTTL(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutCode(ctx, "abc", &CodeRecord{
		Grant:     Grant{GrantID: "g"},
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	mr.FastForward(2 * time.Minute)

	_, err := s.ConsumeCode(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageConsumedMarkerExpires(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutCode(ctx, "abc", &CodeRecord{
		Grant:     Grant{GrantID: "g"},
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	_, err := s.ConsumeCode(ctx, "abc")
	require.NoError(t, err)

	_, err = s.ConsumeCode(ctx, "abc")
	require.ErrorIs(t, err, ErrCodeConsumed)

	// Once the replay marker ages out, the code is indistinguishable from
	// one that never existed.
	mr.FastForward(DefaultConsumedCodeTTL + time.Minute)

	_, err = s.ConsumeCode(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageAssertionReplayWindowExpires(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Minute)
	first, err := s.ObserveAssertion(ctx, "jti-1", exp)
	require.NoError(t, err)
	assert.True(t, first)

	mr.FastForward(2 * time.Minute)

	// The cache window matches the assertion lifetime; after expiry the
	// verifier rejects the stale assertion on its own exp check.
	again, err := s.ObserveAssertion(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisStorageUserCodeIndexExpires(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.PutDeviceAuthorization(ctx, &DeviceAuthorization{
		DeviceCode: "dev",
		UserCode:   "BCDF-GHJK",
		ClientID:   "tv",
		Status:     DeviceStatusPending,
		ExpiresAt:  time.Now().Add(time.Minute),
	}))

	mr.FastForward(2 * time.Minute)

	_, err := s.GetDeviceAuthorizationByUserCode(ctx, "BCDF-GHJK")
	assert.ErrorIs(t, err, ErrNotFound)
}
