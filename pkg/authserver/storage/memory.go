// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/client"
	"github.com/kestrelauth/kestrel/pkg/logger"
)

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStorage implements Storage with in-memory maps. It is safe for
// concurrent use and suitable for single-instance deployments and testing.
// A background goroutine sweeps expired entries.
type MemoryStorage struct {
	mu sync.RWMutex

	// clients maps client_id -> registered client. Clients are not subject
	// to TTL-based cleanup.
	clients map[string]*client.Client

	// codes maps authorization code -> record. Codes are one-time-use;
	// consumedCodes keeps the record after redemption so a replay can be
	// distinguished from an unknown code and the grant revoked.
	codes         map[string]*timedEntry[*CodeRecord]
	consumedCodes map[string]*timedEntry[*CodeRecord]

	// pushedRequests maps PAR request_uri -> pushed parameters.
	pushedRequests map[string]*timedEntry[*PushedRequest]

	// deviceGrants maps device_code -> grant; userCodes is the secondary
	// index user_code -> device_code.
	deviceGrants map[string]*timedEntry[*DeviceAuthorization]
	userCodes    map[string]string

	// backchannelRequests maps auth_req_id -> CIBA request.
	backchannelRequests map[string]*timedEntry[*BackchannelAuthRequest]

	// sessions maps session ID -> end-user session.
	sessions map[string]*timedEntry[*Session]

	// tokens maps jti -> registry record; grantTokens is the reverse index
	// grant_id -> jtis for family-wide revocation.
	tokens      map[string]*timedEntry[*TokenRecord]
	grantTokens map[string][]string

	// assertionJTIs tracks seen assertion jti values until their expiry.
	assertionJTIs map[string]time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom sweep interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStorage creates a MemoryStorage and starts the background sweep.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:             make(map[string]*client.Client),
		codes:               make(map[string]*timedEntry[*CodeRecord]),
		consumedCodes:       make(map[string]*timedEntry[*CodeRecord]),
		pushedRequests:      make(map[string]*timedEntry[*PushedRequest]),
		deviceGrants:        make(map[string]*timedEntry[*DeviceAuthorization]),
		userCodes:           make(map[string]string),
		backchannelRequests: make(map[string]*timedEntry[*BackchannelAuthRequest]),
		sessions:            make(map[string]*timedEntry[*Session]),
		tokens:              make(map[string]*timedEntry[*TokenRecord]),
		grantTokens:         make(map[string][]string),
		assertionJTIs:       make(map[string]time.Time),
		cleanupInterval:     DefaultCleanupInterval,
		stopCleanup:         make(chan struct{}),
		cleanupDone:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage.
func (*MemoryStorage) Health(_ context.Context) error {
	return nil
}

// Close stops the background sweep and waits for it to finish.
func (s *MemoryStorage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired sweeps expired entries. Expired keys are collected under
// the read lock and deleted under the write lock to keep write lock hold
// time short.
func (s *MemoryStorage) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	expiredCodes := expiredKeys(s.codes, now)
	expiredConsumed := expiredKeys(s.consumedCodes, now)
	expiredPushed := expiredKeys(s.pushedRequests, now)
	expiredDevice := expiredKeys(s.deviceGrants, now)
	expiredBackchannel := expiredKeys(s.backchannelRequests, now)
	expiredSessions := expiredKeys(s.sessions, now)
	expiredTokens := expiredKeys(s.tokens, now)

	var expiredJTIs []string
	for k, exp := range s.assertionJTIs {
		if now.After(exp) {
			expiredJTIs = append(expiredJTIs, k)
		}
	}
	s.mu.RUnlock()

	total := len(expiredCodes) + len(expiredConsumed) + len(expiredPushed) +
		len(expiredDevice) + len(expiredBackchannel) + len(expiredSessions) +
		len(expiredTokens) + len(expiredJTIs)
	if total == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.codes, k)
	}
	for _, k := range expiredConsumed {
		delete(s.consumedCodes, k)
	}
	for _, k := range expiredPushed {
		delete(s.pushedRequests, k)
	}
	for _, k := range expiredDevice {
		if entry := s.deviceGrants[k]; entry != nil && entry.value != nil {
			delete(s.userCodes, entry.value.UserCode)
		}
		delete(s.deviceGrants, k)
	}
	for _, k := range expiredBackchannel {
		delete(s.backchannelRequests, k)
	}
	for _, k := range expiredSessions {
		delete(s.sessions, k)
	}
	for _, k := range expiredTokens {
		if entry := s.tokens[k]; entry != nil && entry.value != nil && entry.value.GrantID != "" {
			s.dropGrantToken(entry.value.GrantID, k)
		}
		delete(s.tokens, k)
	}
	for _, k := range expiredJTIs {
		delete(s.assertionJTIs, k)
	}

	logger.Debugw("storage sweep removed expired entries", "count", total)
}

func expiredKeys[T any](m map[string]*timedEntry[T], now time.Time) []string {
	var out []string
	for k, v := range m {
		if v.expired(now) {
			out = append(out, k)
		}
	}
	return out
}

// dropGrantToken removes one jti from the grant reverse index. Caller must
// hold the write lock.
func (s *MemoryStorage) dropGrantToken(grantID, jti string) {
	jtis := slices.DeleteFunc(s.grantTokens[grantID], func(v string) bool { return v == jti })
	if len(jtis) == 0 {
		delete(s.grantTokens, grantID)
		return
	}
	s.grantTokens[grantID] = jtis
}

// -----------------------
// ClientStore
// -----------------------

// CreateClient stores a new client.
func (s *MemoryStorage) CreateClient(_ context.Context, c *client.Client) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("client and client ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[c.ID]; exists {
		return fmt.Errorf("%w: client %q", ErrAlreadyExists, c.ID)
	}
	s.clients[c.ID] = cloneClient(c)
	return nil
}

// GetClient loads a client by ID.
func (s *MemoryStorage) GetClient(_ context.Context, id string) (*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		logger.Debugw("client not found", "client_id", id)
		return nil, fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	return cloneClient(c), nil
}

// UpdateClient replaces an existing client.
func (s *MemoryStorage) UpdateClient(_ context.Context, c *client.Client) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("client and client ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[c.ID]; !exists {
		return fmt.Errorf("%w: client %q", ErrNotFound, c.ID)
	}
	s.clients[c.ID] = cloneClient(c)
	return nil
}

// DeleteClient removes a client.
func (s *MemoryStorage) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[id]; !exists {
		return fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	delete(s.clients, id)
	return nil
}

// ListClients enumerates all registered clients.
func (s *MemoryStorage) ListClients(_ context.Context) ([]*client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, cloneClient(c))
	}
	return out, nil
}

// -----------------------
// CodeStore
// -----------------------

// PutCode stores an authorization code record.
func (s *MemoryStorage) PutCode(_ context.Context, code string, rec *CodeRecord) error {
	if code == "" || rec == nil {
		return fmt.Errorf("code and record are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultCodeTTL)
	}

	s.codes[code] = &timedEntry[*CodeRecord]{
		value:     cloneCodeRecord(rec),
		expiresAt: expiresAt,
	}
	return nil
}

// ConsumeCode atomically retrieves and invalidates a code. The first caller
// wins; replays get ErrCodeConsumed with the original record.
func (s *MemoryStorage) ConsumeCode(_ context.Context, code string) (*CodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if entry, ok := s.consumedCodes[code]; ok && !entry.expired(now) {
		return cloneCodeRecord(entry.value), ErrCodeConsumed
	}

	entry, ok := s.codes[code]
	if !ok || entry.expired(now) {
		logger.Debugw("authorization code not found")
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}

	delete(s.codes, code)
	s.consumedCodes[code] = &timedEntry[*CodeRecord]{
		value:     entry.value,
		expiresAt: now.Add(DefaultConsumedCodeTTL),
	}
	return cloneCodeRecord(entry.value), nil
}

// -----------------------
// PARStore
// -----------------------

// PutPushedRequest stores a pushed authorization request.
func (s *MemoryStorage) PutPushedRequest(_ context.Context, requestURI string, rec *PushedRequest) error {
	if requestURI == "" || rec == nil {
		return fmt.Errorf("request URI and record are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultPushedRequestTTL)
	}

	s.pushedRequests[requestURI] = &timedEntry[*PushedRequest]{
		value:     clonePushedRequest(rec),
		expiresAt: expiresAt,
	}
	return nil
}

// ClaimPushedRequest atomically retrieves and removes a pushed request.
func (s *MemoryStorage) ClaimPushedRequest(_ context.Context, requestURI string) (*PushedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pushedRequests[requestURI]
	if !ok || entry.expired(time.Now()) {
		logger.Debugw("pushed request not found")
		return nil, fmt.Errorf("%w: pushed request", ErrNotFound)
	}

	delete(s.pushedRequests, requestURI)
	return clonePushedRequest(entry.value), nil
}

// -----------------------
// DeviceStore
// -----------------------

// PutDeviceAuthorization stores a device grant and indexes its user_code.
func (s *MemoryStorage) PutDeviceAuthorization(_ context.Context, rec *DeviceAuthorization) error {
	if rec == nil || rec.DeviceCode == "" || rec.UserCode == "" {
		return fmt.Errorf("device code and user code are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userCodes[rec.UserCode]; exists {
		return fmt.Errorf("%w: user code", ErrAlreadyExists)
	}

	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultDeviceCodeTTL)
	}

	s.deviceGrants[rec.DeviceCode] = &timedEntry[*DeviceAuthorization]{
		value:     cloneDeviceAuthorization(rec),
		expiresAt: expiresAt,
	}
	s.userCodes[rec.UserCode] = rec.DeviceCode
	return nil
}

// GetDeviceAuthorization loads a device grant by device_code.
func (s *MemoryStorage) GetDeviceAuthorization(_ context.Context, deviceCode string) (*DeviceAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.deviceGrants[deviceCode]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: device authorization", ErrNotFound)
	}
	return cloneDeviceAuthorization(entry.value), nil
}

// GetDeviceAuthorizationByUserCode loads a device grant by user_code.
func (s *MemoryStorage) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error) {
	s.mu.RLock()
	deviceCode, ok := s.userCodes[userCode]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: user code", ErrNotFound)
	}
	return s.GetDeviceAuthorization(ctx, deviceCode)
}

// UpdateDeviceAuthorization replaces an existing device grant.
func (s *MemoryStorage) UpdateDeviceAuthorization(_ context.Context, rec *DeviceAuthorization) error {
	if rec == nil || rec.DeviceCode == "" {
		return fmt.Errorf("device code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.deviceGrants[rec.DeviceCode]
	if !ok || entry.expired(time.Now()) {
		return fmt.Errorf("%w: device authorization", ErrNotFound)
	}

	entry.value = cloneDeviceAuthorization(rec)
	return nil
}

// DeleteDeviceAuthorization removes a device grant and its user_code index.
func (s *MemoryStorage) DeleteDeviceAuthorization(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.deviceGrants[deviceCode]
	if !ok {
		return fmt.Errorf("%w: device authorization", ErrNotFound)
	}

	if entry.value != nil {
		delete(s.userCodes, entry.value.UserCode)
	}
	delete(s.deviceGrants, deviceCode)
	return nil
}

// -----------------------
// CIBAStore
// -----------------------

// PutBackchannelRequest stores a CIBA request.
func (s *MemoryStorage) PutBackchannelRequest(_ context.Context, rec *BackchannelAuthRequest) error {
	if rec == nil || rec.AuthReqID == "" {
		return fmt.Errorf("auth_req_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultDeviceCodeTTL)
	}

	s.backchannelRequests[rec.AuthReqID] = &timedEntry[*BackchannelAuthRequest]{
		value:     cloneBackchannelRequest(rec),
		expiresAt: expiresAt,
	}
	return nil
}

// GetBackchannelRequest loads a CIBA request by auth_req_id.
func (s *MemoryStorage) GetBackchannelRequest(_ context.Context, authReqID string) (*BackchannelAuthRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.backchannelRequests[authReqID]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: backchannel request", ErrNotFound)
	}
	return cloneBackchannelRequest(entry.value), nil
}

// UpdateBackchannelRequest replaces an existing CIBA request.
func (s *MemoryStorage) UpdateBackchannelRequest(_ context.Context, rec *BackchannelAuthRequest) error {
	if rec == nil || rec.AuthReqID == "" {
		return fmt.Errorf("auth_req_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.backchannelRequests[rec.AuthReqID]
	if !ok || entry.expired(time.Now()) {
		return fmt.Errorf("%w: backchannel request", ErrNotFound)
	}

	entry.value = cloneBackchannelRequest(rec)
	return nil
}

// DeleteBackchannelRequest removes a CIBA request.
func (s *MemoryStorage) DeleteBackchannelRequest(_ context.Context, authReqID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.backchannelRequests[authReqID]; !ok {
		return fmt.Errorf("%w: backchannel request", ErrNotFound)
	}
	delete(s.backchannelRequests, authReqID)
	return nil
}

// -----------------------
// SessionStore
// -----------------------

// PutSession stores an end-user session.
func (s *MemoryStorage) PutSession(_ context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := sess.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(DefaultSessionTTL)
	}

	s.sessions[sess.ID] = &timedEntry[*Session]{
		value:     cloneSession(sess),
		expiresAt: expiresAt,
	}
	return nil
}

// GetSession loads a session by ID.
func (s *MemoryStorage) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok || entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: session", ErrNotFound)
	}
	return cloneSession(entry.value), nil
}

// UpdateSession replaces an existing session.
func (s *MemoryStorage) UpdateSession(_ context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sess.ID]
	if !ok || entry.expired(time.Now()) {
		return fmt.Errorf("%w: session", ErrNotFound)
	}

	entry.value = cloneSession(sess)
	return nil
}

// DeleteSession removes a session.
func (s *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: session", ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

// -----------------------
// TokenRegistry
// -----------------------

// RegisterToken records a freshly issued token.
func (s *MemoryStorage) RegisterToken(_ context.Context, jti string, rec *TokenRecord) error {
	if jti == "" || rec == nil {
		return fmt.Errorf("jti and record are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.tokens[jti] = &timedEntry[*TokenRecord]{
		value:     &cp,
		expiresAt: rec.ExpiresAt,
	}
	if rec.GrantID != "" {
		s.grantTokens[rec.GrantID] = append(s.grantTokens[rec.GrantID], jti)
	}
	return nil
}

// TokenStatus reports the state of a jti.
func (s *MemoryStorage) TokenStatus(_ context.Context, jti string) (TokenStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[jti]
	if !ok || entry.expired(time.Now()) {
		return StatusUnknown, nil
	}
	return entry.value.Status, nil
}

// SetTokenStatus transitions a token's state.
func (s *MemoryStorage) SetTokenStatus(_ context.Context, jti string, status TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[jti]
	if !ok || entry.expired(time.Now()) {
		return fmt.Errorf("%w: token %q", ErrNotFound, jti)
	}

	entry.value.Status = status
	return nil
}

// RevokeGrant marks every registered token of a grant as revoked.
func (s *MemoryStorage) RevokeGrant(_ context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, jti := range s.grantTokens[grantID] {
		if entry, ok := s.tokens[jti]; ok {
			entry.value.Status = StatusRevoked
		}
	}
	return nil
}

// -----------------------
// ReplayCache
// -----------------------

// ObserveAssertion records an assertion jti, reporting true on first
// sighting.
func (s *MemoryStorage) ObserveAssertion(_ context.Context, jti string, exp time.Time) (bool, error) {
	if jti == "" {
		return false, fmt.Errorf("jti is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if seen, ok := s.assertionJTIs[jti]; ok && now.Before(seen) {
		return false, nil
	}

	s.assertionJTIs[jti] = exp
	return true, nil
}

// -----------------------
// Stats (for testing and monitoring)
// -----------------------

// Stats contains counts of live storage entries.
type Stats struct {
	Clients             int
	Codes               int
	ConsumedCodes       int
	PushedRequests      int
	DeviceGrants        int
	BackchannelRequests int
	Sessions            int
	Tokens              int
	AssertionJTIs       int
}

// Stats returns current entry counts.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:             len(s.clients),
		Codes:               len(s.codes),
		ConsumedCodes:       len(s.consumedCodes),
		PushedRequests:      len(s.pushedRequests),
		DeviceGrants:        len(s.deviceGrants),
		BackchannelRequests: len(s.backchannelRequests),
		Sessions:            len(s.sessions),
		Tokens:              len(s.tokens),
		AssertionJTIs:       len(s.assertionJTIs),
	}
}

// -----------------------
// Defensive copies
// -----------------------

func cloneClient(c *client.Client) *client.Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.ResponseTypes = slices.Clone(c.ResponseTypes)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.Scopes = slices.Clone(c.Scopes)
	cp.RequestURIs = slices.Clone(c.RequestURIs)
	cp.PostLogoutRedirectURIs = slices.Clone(c.PostLogoutRedirectURIs)
	cp.JWKS = slices.Clone(c.JWKS)
	if c.Secret != nil {
		sec := *c.Secret
		cp.Secret = &sec
	}
	if c.TLS != nil {
		tls := *c.TLS
		cp.TLS = &tls
	}
	return &cp
}

func cloneGrant(g *Grant) *Grant {
	cp := *g
	cp.Scopes = slices.Clone(g.Scopes)
	cp.Audience = slices.Clone(g.Audience)
	cp.AMR = slices.Clone(g.AMR)
	cp.Claims = maps.Clone(g.Claims)
	return &cp
}

func cloneCodeRecord(rec *CodeRecord) *CodeRecord {
	cp := *rec
	cp.Grant = *cloneGrant(&rec.Grant)
	return &cp
}

func clonePushedRequest(rec *PushedRequest) *PushedRequest {
	cp := *rec
	cp.Params = make(map[string][]string, len(rec.Params))
	for k, v := range rec.Params {
		cp.Params[k] = slices.Clone(v)
	}
	return &cp
}

func cloneDeviceAuthorization(rec *DeviceAuthorization) *DeviceAuthorization {
	cp := *rec
	cp.Scopes = slices.Clone(rec.Scopes)
	cp.Audience = slices.Clone(rec.Audience)
	if rec.Grant != nil {
		cp.Grant = cloneGrant(rec.Grant)
	}
	return &cp
}

func cloneBackchannelRequest(rec *BackchannelAuthRequest) *BackchannelAuthRequest {
	cp := *rec
	cp.Scopes = slices.Clone(rec.Scopes)
	cp.Audience = slices.Clone(rec.Audience)
	if rec.Grant != nil {
		cp.Grant = cloneGrant(rec.Grant)
	}
	return &cp
}

func cloneSession(sess *Session) *Session {
	cp := *sess
	cp.ClientIDs = slices.Clone(sess.ClientIDs)
	cp.AMR = slices.Clone(sess.AMR)
	return &cp
}

// Compile-time interface compliance check
var _ Storage = (*MemoryStorage)(nil)
