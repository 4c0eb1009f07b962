// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Redis key kinds. Full keys are "{prefix}{kind}:{id}".
const (
	keyKindClient       = "client"
	keyKindCode         = "code"
	keyKindConsumedCode = "usedcode"
	keyKindPushed       = "par"
	keyKindDevice       = "device"
	keyKindUserCode     = "usercode"
	keyKindBackchannel  = "ciba"
	keyKindSession      = "session"
	keyKindToken        = "token"
	keyKindGrant        = "grant"
	keyKindAssertion    = "jti"
)

// consumeCodeScript atomically redeems an authorization code. It reports a
// replay when the consumed marker exists, otherwise moves the record from
// the live key to the consumed marker in one step so concurrent redemptions
// cannot both win.
var consumeCodeScript = redis.NewScript(`
local used = redis.call('GET', KEYS[2])
if used then
  return {'used', used}
end
local v = redis.call('GET', KEYS[1])
if not v then
  return {'missing', ''}
end
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], v, 'EX', ARGV[1])
return {'ok', v}
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	Username string
	Password string
	DB       int

	// KeyPrefix namespaces all keys, e.g. "kestrel:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStorage implements Storage on a Redis backend, enabling horizontal
// scaling. Expiry is delegated to Redis TTLs; no sweeper is needed.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage creates Redis-backed storage and verifies connectivity.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	c := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: c, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured
// client. This is useful for testing with miniredis.
func NewRedisStorageWithClient(c redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{client: c, keyPrefix: keyPrefix}
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Health checks Redis connectivity.
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) key(kind, id string) string {
	return s.keyPrefix + kind + ":" + id
}

// setJSON marshals a record and stores it with the given TTL. A zero TTL
// stores without expiry; a negative TTL is rejected as already expired.
func (s *RedisStorage) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("record is already expired")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// getJSON loads and unmarshals a record, mapping redis.Nil to ErrNotFound.
func getJSON[T any](ctx context.Context, s *RedisStorage, key string) (*T, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &out, nil
}

func ttlUntil(expiresAt time.Time, fallback time.Duration) time.Duration {
	if expiresAt.IsZero() {
		return fallback
	}
	return time.Until(expiresAt)
}

// -----------------------
// ClientStore
// -----------------------

// CreateClient stores a new client. Clients do not expire.
func (s *RedisStorage) CreateClient(ctx context.Context, c *client.Client) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("client and client ID are required")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(keyKindClient, c.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: client %q", ErrAlreadyExists, c.ID)
	}
	return nil
}

// GetClient loads a client by ID.
func (s *RedisStorage) GetClient(ctx context.Context, id string) (*client.Client, error) {
	return getJSON[client.Client](ctx, s, s.key(keyKindClient, id))
}

// UpdateClient replaces an existing client.
func (s *RedisStorage) UpdateClient(ctx context.Context, c *client.Client) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("client and client ID are required")
	}

	key := s.key(keyKindClient, c.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check client: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: client %q", ErrNotFound, c.ID)
	}
	return s.setJSON(ctx, key, c, 0)
}

// DeleteClient removes a client.
func (s *RedisStorage) DeleteClient(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(keyKindClient, id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	return nil
}

// ListClients enumerates all registered clients via SCAN.
func (s *RedisStorage) ListClients(ctx context.Context) ([]*client.Client, error) {
	var out []*client.Client

	iter := s.client.Scan(ctx, 0, s.key(keyKindClient, "*"), 100).Iterator()
	for iter.Next(ctx) {
		c, err := getJSON[client.Client](ctx, s, iter.Val())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // deleted between SCAN and GET
			}
			return nil, err
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan clients: %w", err)
	}
	return out, nil
}

// -----------------------
// CodeStore
// -----------------------

// PutCode stores an authorization code record.
func (s *RedisStorage) PutCode(ctx context.Context, code string, rec *CodeRecord) error {
	if code == "" || rec == nil {
		return fmt.Errorf("code and record are required")
	}
	return s.setJSON(ctx, s.key(keyKindCode, code), rec, ttlUntil(rec.ExpiresAt, DefaultCodeTTL))
}

// ConsumeCode atomically retrieves and invalidates a code via a Lua script,
// so exactly one redemption wins even across server instances.
func (s *RedisStorage) ConsumeCode(ctx context.Context, code string) (*CodeRecord, error) {
	keys := []string{s.key(keyKindCode, code), s.key(keyKindConsumedCode, code)}
	ttlSeconds := int(DefaultConsumedCodeTTL.Seconds())

	res, err := consumeCodeScript.Run(ctx, s.client, keys, ttlSeconds).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("unexpected script reply %T", res)
	}
	status, _ := reply[0].(string)
	payload, _ := reply[1].(string)

	switch status {
	case "missing":
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	case "used", "ok":
		var rec CodeRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal code record: %w", err)
		}
		if status == "used" {
			return &rec, ErrCodeConsumed
		}
		return &rec, nil
	default:
		return nil, fmt.Errorf("unexpected script status %q", status)
	}
}

// -----------------------
// PARStore
// -----------------------

// PutPushedRequest stores a pushed authorization request.
func (s *RedisStorage) PutPushedRequest(ctx context.Context, requestURI string, rec *PushedRequest) error {
	if requestURI == "" || rec == nil {
		return fmt.Errorf("request URI and record are required")
	}
	return s.setJSON(ctx, s.key(keyKindPushed, requestURI), rec, ttlUntil(rec.ExpiresAt, DefaultPushedRequestTTL))
}

// ClaimPushedRequest atomically retrieves and removes a pushed request.
func (s *RedisStorage) ClaimPushedRequest(ctx context.Context, requestURI string) (*PushedRequest, error) {
	data, err := s.client.GetDel(ctx, s.key(keyKindPushed, requestURI)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: pushed request", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to claim pushed request: %w", err)
	}

	var rec PushedRequest
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pushed request: %w", err)
	}
	return &rec, nil
}

// -----------------------
// DeviceStore
// -----------------------

// PutDeviceAuthorization stores a device grant and indexes its user_code.
func (s *RedisStorage) PutDeviceAuthorization(ctx context.Context, rec *DeviceAuthorization) error {
	if rec == nil || rec.DeviceCode == "" || rec.UserCode == "" {
		return fmt.Errorf("device code and user code are required")
	}

	ttl := ttlUntil(rec.ExpiresAt, DefaultDeviceCodeTTL)

	indexed, err := s.client.SetNX(ctx, s.key(keyKindUserCode, rec.UserCode), rec.DeviceCode, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to index user code: %w", err)
	}
	if !indexed {
		return fmt.Errorf("%w: user code", ErrAlreadyExists)
	}

	if err := s.setJSON(ctx, s.key(keyKindDevice, rec.DeviceCode), rec, ttl); err != nil {
		// Compensate: drop the index we just created.
		_ = s.client.Del(ctx, s.key(keyKindUserCode, rec.UserCode)).Err()
		return err
	}
	return nil
}

// GetDeviceAuthorization loads a device grant by device_code.
func (s *RedisStorage) GetDeviceAuthorization(ctx context.Context, deviceCode string) (*DeviceAuthorization, error) {
	return getJSON[DeviceAuthorization](ctx, s, s.key(keyKindDevice, deviceCode))
}

// GetDeviceAuthorizationByUserCode loads a device grant by user_code.
func (s *RedisStorage) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	deviceCode, err := s.client.Get(ctx, s.key(keyKindUserCode, userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: user code", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve user code: %w", err)
	}
	return s.GetDeviceAuthorization(ctx, deviceCode)
}

// UpdateDeviceAuthorization replaces an existing device grant.
func (s *RedisStorage) UpdateDeviceAuthorization(ctx context.Context, rec *DeviceAuthorization) error {
	if rec == nil || rec.DeviceCode == "" {
		return fmt.Errorf("device code is required")
	}

	key := s.key(keyKindDevice, rec.DeviceCode)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check device authorization: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: device authorization", ErrNotFound)
	}
	return s.setJSON(ctx, key, rec, ttlUntil(rec.ExpiresAt, DefaultDeviceCodeTTL))
}

// DeleteDeviceAuthorization removes a device grant and its user_code index.
func (s *RedisStorage) DeleteDeviceAuthorization(ctx context.Context, deviceCode string) error {
	rec, err := s.GetDeviceAuthorization(ctx, deviceCode)
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(keyKindDevice, deviceCode)).Err(); err != nil {
		return fmt.Errorf("failed to delete device authorization: %w", err)
	}
	// Index cleanup is best effort; it expires with the grant anyway.
	_ = s.client.Del(ctx, s.key(keyKindUserCode, rec.UserCode)).Err()
	return nil
}

// -----------------------
// CIBAStore
// -----------------------

// PutBackchannelRequest stores a CIBA request.
func (s *RedisStorage) PutBackchannelRequest(ctx context.Context, rec *BackchannelAuthRequest) error {
	if rec == nil || rec.AuthReqID == "" {
		return fmt.Errorf("auth_req_id is required")
	}
	return s.setJSON(ctx, s.key(keyKindBackchannel, rec.AuthReqID), rec, ttlUntil(rec.ExpiresAt, DefaultDeviceCodeTTL))
}

// GetBackchannelRequest loads a CIBA request by auth_req_id.
func (s *RedisStorage) GetBackchannelRequest(ctx context.Context, authReqID string) (*BackchannelAuthRequest, error) {
	return getJSON[BackchannelAuthRequest](ctx, s, s.key(keyKindBackchannel, authReqID))
}

// UpdateBackchannelRequest replaces an existing CIBA request.
func (s *RedisStorage) UpdateBackchannelRequest(ctx context.Context, rec *BackchannelAuthRequest) error {
	if rec == nil || rec.AuthReqID == "" {
		return fmt.Errorf("auth_req_id is required")
	}

	key := s.key(keyKindBackchannel, rec.AuthReqID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check backchannel request: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: backchannel request", ErrNotFound)
	}
	return s.setJSON(ctx, key, rec, ttlUntil(rec.ExpiresAt, DefaultDeviceCodeTTL))
}

// DeleteBackchannelRequest removes a CIBA request.
func (s *RedisStorage) DeleteBackchannelRequest(ctx context.Context, authReqID string) error {
	n, err := s.client.Del(ctx, s.key(keyKindBackchannel, authReqID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete backchannel request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: backchannel request", ErrNotFound)
	}
	return nil
}

// -----------------------
// SessionStore
// -----------------------

// PutSession stores an end-user session.
func (s *RedisStorage) PutSession(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	return s.setJSON(ctx, s.key(keyKindSession, sess.ID), sess, ttlUntil(sess.ExpiresAt, DefaultSessionTTL))
}

// GetSession loads a session by ID.
func (s *RedisStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	return getJSON[Session](ctx, s, s.key(keyKindSession, id))
}

// UpdateSession replaces an existing session.
func (s *RedisStorage) UpdateSession(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	key := s.key(keyKindSession, sess.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: session", ErrNotFound)
	}
	return s.setJSON(ctx, key, sess, ttlUntil(sess.ExpiresAt, DefaultSessionTTL))
}

// DeleteSession removes a session.
func (s *RedisStorage) DeleteSession(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(keyKindSession, id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session", ErrNotFound)
	}
	return nil
}

// -----------------------
// TokenRegistry
// -----------------------

// RegisterToken records a freshly issued token and indexes it under its
// grant for family-wide revocation.
func (s *RedisStorage) RegisterToken(ctx context.Context, jti string, rec *TokenRecord) error {
	if jti == "" || rec == nil {
		return fmt.Errorf("jti and record are required")
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token is already expired")
	}

	if err := s.setJSON(ctx, s.key(keyKindToken, jti), rec, ttl); err != nil {
		return err
	}

	if rec.GrantID != "" {
		grantKey := s.key(keyKindGrant, rec.GrantID)
		if err := s.client.SAdd(ctx, grantKey, jti).Err(); err != nil {
			_ = s.client.Del(ctx, s.key(keyKindToken, jti)).Err()
			return fmt.Errorf("failed to index token grant: %w", err)
		}
		// Keep the index alive at least as long as its longest-lived token.
		current, err := s.client.TTL(ctx, grantKey).Result()
		if err == nil && (current < 0 || current < ttl) {
			_ = s.client.Expire(ctx, grantKey, ttl).Err()
		}
	}
	return nil
}

// TokenStatus reports the state of a jti. An expired or unknown record
// yields StatusUnknown.
func (s *RedisStorage) TokenStatus(ctx context.Context, jti string) (TokenStatus, error) {
	rec, err := getJSON[TokenRecord](ctx, s, s.key(keyKindToken, jti))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusUnknown, nil
		}
		return StatusUnknown, err
	}
	return rec.Status, nil
}

// SetTokenStatus transitions a token's state.
func (s *RedisStorage) SetTokenStatus(ctx context.Context, jti string, status TokenStatus) error {
	key := s.key(keyKindToken, jti)
	rec, err := getJSON[TokenRecord](ctx, s, key)
	if err != nil {
		return err
	}

	rec.Status = status
	return s.setJSON(ctx, key, rec, time.Until(rec.ExpiresAt))
}

// RevokeGrant marks every registered token of a grant as revoked.
func (s *RedisStorage) RevokeGrant(ctx context.Context, grantID string) error {
	jtis, err := s.client.SMembers(ctx, s.key(keyKindGrant, grantID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list grant tokens: %w", err)
	}

	for _, jti := range jtis {
		if err := s.SetTokenStatus(ctx, jti, StatusRevoked); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// -----------------------
// ReplayCache
// -----------------------

// ObserveAssertion records an assertion jti with SET NX, reporting true on
// first sighting.
func (s *RedisStorage) ObserveAssertion(ctx context.Context, jti string, exp time.Time) (bool, error) {
	if jti == "" {
		return false, fmt.Errorf("jti is required")
	}

	ttl := time.Until(exp)
	if ttl <= 0 {
		// An expired assertion is rejected by the verifier before reaching
		// the cache; nothing to remember.
		return true, nil
	}

	first, err := s.client.SetNX(ctx, s.key(keyKindAssertion, jti), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record assertion jti: %w", err)
	}
	return first, nil
}

// Compile-time interface compliance check
var _ Storage = (*RedisStorage)(nil)
