// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource returns the bearer JWT to attach to a request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields the same token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// RefreshingToken caches a session JWT and calls refresh before the token's
// exp claim is reached. The session itself is issued elsewhere (auth is an
// external collaborator); this only keeps the replay engine from draining a
// long queue with a token that expires mid-batch.
type RefreshingToken struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	leeway    time.Duration
	refresh   func(ctx context.Context) (string, error)
}

// NewRefreshingToken wraps refresh. leeway is how long before exp a cached
// token is considered stale; zero means 30 seconds.
func NewRefreshingToken(refresh func(ctx context.Context) (string, error), leeway time.Duration) *RefreshingToken {
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &RefreshingToken{leeway: leeway, refresh: refresh}
}

// Source returns the TokenSource backed by this cache.
func (t *RefreshingToken) Source() TokenSource {
	return t.get
}

func (t *RefreshingToken) get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && (t.expiresAt.IsZero() || time.Until(t.expiresAt) > t.leeway) {
		return t.token, nil
	}
	token, err := t.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	t.token = token
	t.expiresAt = tokenExpiry(token)
	return token, nil
}

// tokenExpiry reads the exp claim without verifying the signature (the
// client has no key; verification is the server's job). A token without a
// readable exp claim is treated as non-expiring.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
