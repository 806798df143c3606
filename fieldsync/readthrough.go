// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ReadResult is what a read screen renders: the payload plus enough
// provenance to show staleness ("last synced at") when serving from cache.
type ReadResult struct {
	Payload   json.RawMessage
	FromCache bool
	FetchedAt time.Time
}

// CacheAdapter wraps remote reads so every screen behaves identically online
// and offline: fresh data when the fetch succeeds, the last-known snapshot
// when it fails with a network-class error.
type CacheAdapter struct {
	store   *Store
	monitor *Monitor
	logger  *slog.Logger
}

// NewCacheAdapter returns an adapter over store and monitor.
func NewCacheAdapter(store *Store, monitor *Monitor, logger *slog.Logger) *CacheAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheAdapter{store: store, monitor: monitor, logger: logger}
}

// ReadWithFallback always attempts fetch first: the monitor can be stale,
// and an actual attempt is the ground truth. On success the result is written
// through to the store and returned fresh. On a network-class failure (or
// any failure while the monitor says offline) the last snapshot is returned
// if one exists; with nothing cached the original error propagates. An
// application-class failure never falls back: serving stale data on, say, an
// authorization error would mislead the inspector about their own access.
func (a *CacheAdapter) ReadWithFallback(ctx context.Context, collection string, fetch func(context.Context) (json.RawMessage, error)) (ReadResult, error) {
	payload, err := fetch(ctx)
	if err == nil {
		if saveErr := a.store.SaveSnapshot(ctx, collection, payload); saveErr != nil {
			// Fresh data beats a broken cache write; log it and move on.
			a.logger.Warn("failed to cache fetched collection",
				"collection", collection, "error", saveErr)
		}
		return ReadResult{Payload: payload, FetchedAt: time.Now().UTC()}, nil
	}

	if IsApplicationError(err) {
		// The server answered and said no; stale data would be a lie.
		return ReadResult{}, err
	}
	if !IsNetworkError(err) && a.monitor.IsOnline() {
		return ReadResult{}, err
	}

	snap, loadErr := a.store.LoadSnapshot(ctx, collection)
	if errors.Is(loadErr, ErrSnapshotNotFound) {
		return ReadResult{}, err // nothing to fall back to
	}
	if loadErr != nil {
		return ReadResult{}, loadErr
	}
	a.logger.Debug("serving collection from cache",
		"collection", collection, "fetched_at", snap.FetchedAt)
	return ReadResult{Payload: snap.Payload, FromCache: true, FetchedAt: snap.FetchedAt}, nil
}
