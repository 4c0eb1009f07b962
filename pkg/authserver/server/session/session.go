// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package session tracks authenticated end-user sessions at the provider
// and computes the session_state values the check-session iframe compares
// (OIDC Session Management 1.0).
package session

import (
	"context"
	"slices"
	"time"

	"github.com/kestrelauth/kestrel/pkg/authserver/server/crypto"
	"github.com/kestrelauth/kestrel/pkg/authserver/storage"
)

// DefaultTTL bounds session lifetime when the config does not.
const DefaultTTL = storage.DefaultSessionTTL

// Config tunes session handling.
type Config struct {
	// TTL bounds how long a session stays valid without re-authentication.
	TTL time.Duration `mapstructure:"ttl"`

	// CookieName is the browser state cookie the check-session iframe
	// reads. The host sets the cookie; the engine only names it.
	CookieName string `mapstructure:"cookie_name"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.CookieName == "" {
		c.CookieName = "kestrel_session"
	}
	return c
}

// Service manages end-user sessions.
type Service struct {
	cfg   Config
	store storage.SessionStore
}

// New creates a session service.
func New(cfg Config, store storage.SessionStore) *Service {
	return &Service{cfg: cfg.withDefaults(), store: store}
}

// CookieName is the browser state cookie the check-session iframe reads.
func (s *Service) CookieName() string { return s.cfg.CookieName }

// Establish records a fresh authentication event as a session.
func (s *Service) Establish(ctx context.Context, subject, acr string, amr []string) (*storage.Session, error) {
	now := time.Now()
	sess := &storage.Session{
		ID:        crypto.RandomToken(32),
		Subject:   subject,
		ACR:       acr,
		AMR:       amr,
		AuthTime:  now,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session. Returns storage.ErrNotFound for unknown or
// expired sessions.
func (s *Service) Get(ctx context.Context, id string) (*storage.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return sess, nil
}

// RecordClient registers a relying party as a session participant, so
// logout can notify it later. Idempotent per client.
func (s *Service) RecordClient(ctx context.Context, sessionID, clientID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if slices.Contains(sess.ClientIDs, clientID) {
		return nil
	}
	sess.ClientIDs = append(sess.ClientIDs, clientID)
	return s.store.UpdateSession(ctx, sess)
}

// End removes a session and returns its final state for logout fan-out.
func (s *Service) End(ctx context.Context, id string) (*storage.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

// State computes the session_state value returned on authorization
// responses and recomputed by the check-session iframe. The salt travels
// inside the value so the iframe can reproduce the hash.
func (*Service) State(clientID, origin, browserState string) string {
	return crypto.SessionState(clientID, origin, browserState, crypto.RandomToken(8))
}

// StateMatches recomputes a session_state with the salt it carries and
// compares. Used by tests and by hosts that validate iframe inputs
// server-side.
func (*Service) StateMatches(state, clientID, origin, browserState string) bool {
	salt, ok := stateSalt(state)
	if !ok {
		return false
	}
	return crypto.SessionState(clientID, origin, browserState, salt) == state
}

func stateSalt(state string) (string, bool) {
	for i := len(state) - 1; i >= 0; i-- {
		if state[i] == '.' {
			return state[i+1:], true
		}
	}
	return "", false
}
