// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package fieldsync is the NearCar inspector app's offline data layer: a
// durable snapshot cache, a write-behind queue of pending mutations, and a
// coordinator that reconciles the queue with the marketplace backend when
// connectivity allows.
package fieldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Collection names under which remote reads are cached.
const (
	CollectionDashboardStats = "dashboard_stats"
	CollectionInspections    = "inspections"
	CollectionAssignments    = "assignments"
)

// QueuePolicy decides when a write is deferred to the queue.
type QueuePolicy int

const (
	// QueueWhenOffline calls the remote directly while online and enqueues
	// when offline or when the direct call fails with a network-class error.
	QueueWhenOffline QueuePolicy = iota

	// QueueAlways writes behind uniformly: every mutation is enqueued and
	// the coordinator is nudged, so online and offline paths are identical.
	QueueAlways
)

// AckState tells the UI how far a write got. The distinction matters:
// "saved, pending sync" must not be presented as "saved".
type AckState string

const (
	AckSynced  AckState = "synced"  // confirmed by the server
	AckPending AckState = "pending" // recorded locally, awaiting sync
)

// Ack acknowledges a write. OperationID is set only for pending writes.
type Ack struct {
	State       AckState
	OperationID string
}

// Service is the facade the inspector UI talks to. It owns the read-through
// adapter and the sync coordinator and routes every mutation according to
// the queue policy.
type Service struct {
	store   *Store
	api     RemoteAPI
	monitor *Monitor
	adapter *CacheAdapter
	coord   *Coordinator
	policy  QueuePolicy
	logger  *slog.Logger
}

// NewService wires the offline layer together. cfg may be nil for defaults.
func NewService(store *Store, api RemoteAPI, monitor *Monitor, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		api:     api,
		monitor: monitor,
		adapter: NewCacheAdapter(store, monitor, logger),
		coord:   NewCoordinator(store, api, monitor, cfg),
		policy:  cfg.QueuePolicy,
		logger:  logger,
	}
}

// Start launches the background sync loop.
func (s *Service) Start(ctx context.Context) { s.coord.Start(ctx) }

// Stop halts the background sync loop. The monitor is owned by the caller
// and stays open.
func (s *Service) Stop() { s.coord.Stop() }

// SyncNow requests an immediate drain cycle.
func (s *Service) SyncNow() { s.coord.Nudge() }

// DashboardStats returns the inspector's dashboard counters, from the server
// when reachable and from the last snapshot otherwise.
func (s *Service) DashboardStats(ctx context.Context) (ReadResult, error) {
	return s.adapter.ReadWithFallback(ctx, CollectionDashboardStats, s.api.GetDashboardStats)
}

// MyInspections returns the inspector's inspection list with offline fallback.
func (s *Service) MyInspections(ctx context.Context) (ReadResult, error) {
	return s.adapter.ReadWithFallback(ctx, CollectionInspections, s.api.GetMyInspections)
}

// Assignments returns the open assignment list with offline fallback.
func (s *Service) Assignments(ctx context.Context) (ReadResult, error) {
	return s.adapter.ReadWithFallback(ctx, CollectionAssignments, s.api.GetAssignments)
}

// SaveChecklist submits the full checklist for an inspection, queueing it
// when the backend is unreachable.
func (s *Service) SaveChecklist(ctx context.Context, inspectionID string, checklist json.RawMessage) (Ack, error) {
	return s.submit(ctx, NewChecklistSave(inspectionID, checklist), func(ctx context.Context) error {
		return s.api.SaveChecklist(ctx, inspectionID, checklist)
	})
}

// UpdateStatus moves an inspection to a new status, queueing when offline.
func (s *Service) UpdateStatus(ctx context.Context, inspectionID, newStatus string) (Ack, error) {
	return s.submit(ctx, NewStatusUpdate(inspectionID, newStatus), func(ctx context.Context) error {
		return s.api.UpdateInspectionStatus(ctx, inspectionID, newStatus)
	})
}

// AcceptAssignment claims an open assignment, queueing when offline. A
// queued accept that later hits an "already assigned" conflict is abandoned
// and surfaced via AbandonedOperations.
func (s *Service) AcceptAssignment(ctx context.Context, inspectionID string) (Ack, error) {
	return s.submit(ctx, NewAssignmentAccept(inspectionID), func(ctx context.Context) error {
		return s.api.AcceptAssignment(ctx, inspectionID)
	})
}

// RejectAssignment declines an assignment, queueing when offline.
func (s *Service) RejectAssignment(ctx context.Context, inspectionID, reason string) (Ack, error) {
	return s.submit(ctx, NewAssignmentReject(inspectionID, reason), func(ctx context.Context) error {
		return s.api.RejectAssignment(ctx, inspectionID, reason)
	})
}

// submit routes one mutation. Direct application-class rejections propagate
// to the caller immediately; they are not queue material.
func (s *Service) submit(ctx context.Context, op *QueuedOperation, direct func(context.Context) error) (Ack, error) {
	if s.policy == QueueWhenOffline && s.monitor.IsOnline() {
		err := direct(ctx)
		if err == nil {
			return Ack{State: AckSynced}, nil
		}
		if !IsNetworkError(err) {
			return Ack{}, err
		}
		// The monitor believed online but the request could not reach the
		// server; fall through to the queue for this one operation.
		s.logger.Debug("direct call failed with network error, queueing",
			"kind", op.Kind, "target_id", op.TargetID)
	}
	if err := s.store.EnqueueOperation(ctx, op); err != nil {
		return Ack{}, fmt.Errorf("failed to queue %s: %w", op.Kind, err)
	}
	if s.monitor.IsOnline() {
		s.coord.Nudge()
	}
	return Ack{State: AckPending, OperationID: op.ID}, nil
}

// PendingCount reports how many mutations await sync.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	ops, err := s.store.ListPendingOperations(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// AbandonedOperations lists terminally failed mutations for the UI to
// surface. Each should be acknowledged once shown.
func (s *Service) AbandonedOperations(ctx context.Context) ([]AbandonedOperation, error) {
	return s.store.ListAbandonedOperations(ctx)
}

// AcknowledgeAbandoned clears a surfaced terminal failure.
func (s *Service) AcknowledgeAbandoned(ctx context.Context, operationID string) error {
	return s.store.AcknowledgeAbandoned(ctx, operationID)
}

// Logout stops syncing and wipes all cached data for the signed-out
// inspector.
func (s *Service) Logout(ctx context.Context) error {
	s.coord.Stop()
	return s.store.Reset(ctx)
}
