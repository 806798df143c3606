// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds configuration for the offline sync layer.
type Config struct {
	// SyncInterval is the period of the drain timer. Connectivity-restored
	// events trigger an immediate extra cycle regardless of the timer.
	SyncInterval time.Duration

	// QueuePolicy decides when the service enqueues a write instead of
	// calling the remote directly.
	QueuePolicy QueuePolicy

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the configuration the inspector app ships with.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 30 * time.Second,
		QueuePolicy:  QueueWhenOffline,
		Logger:       slog.Default(),
	}
}

// Coordinator drains the pending-operation queue against the remote API.
// A periodic timer and offline→online transitions both trigger a cycle;
// cycles never overlap (single-flight guard) and process operations strictly
// in FIFO order, one at a time.
type Coordinator struct {
	store    *Store
	api      RemoteAPI
	monitor  *Monitor
	interval time.Duration
	logger   *slog.Logger

	syncing  int32 // single-flight guard, in-memory only
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	unsub    func()
	started  int32
}

// NewCoordinator wires the coordinator to the store, remote API and monitor.
// cfg may be nil for defaults.
func NewCoordinator(store *Store, api RemoteAPI, monitor *Monitor, cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Coordinator{
		store:    store,
		api:      api,
		monitor:  monitor,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the drain loop and subscribes to connectivity transitions.
// The loop runs until Stop is called or ctx is canceled. Calling Start twice
// is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	c.unsub = c.monitor.OnStatusChange(func(online bool) {
		if online {
			c.Nudge()
		}
	})
	go c.loop(ctx)
}

// Stop tears down the timer and the connectivity subscription. An in-flight
// cycle is allowed to finish; no new cycle starts after Stop returns.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.unsub != nil {
			c.unsub()
		}
		close(c.stop)
	})
}

// Nudge requests an immediate drain cycle without waiting for the timer.
// Safe to call from any goroutine; coalesces with a pending request.
func (c *Coordinator) Nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
		case <-c.wake:
		}
		if err := c.SyncOnce(ctx); err != nil {
			c.logger.Debug("sync cycle ended with error", "error", err)
		}
	}
}

// SyncOnce runs a single drain cycle. It is a no-op when another cycle is
// already running or when the monitor reports offline. Operations are
// replayed in FIFO order; the first network-class failure halts the batch
// (later operations may depend on earlier ones), while a terminal rejection
// abandons just that operation and continues.
//
// The returned error is the failure that halted the batch, if any. Successes
// recorded before the halt stay recorded.
func (c *Coordinator) SyncOnce(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.syncing, 0, 1) {
		return nil // a cycle is already draining; this trigger is dropped
	}
	defer atomic.StoreInt32(&c.syncing, 0)

	if !c.monitor.IsOnline() {
		return nil
	}

	ops, err := c.store.ListPendingOperations(ctx)
	if err != nil {
		return err
	}
	for i := range ops {
		op := &ops[i]
		err := c.replay(ctx, op)
		switch {
		case err == nil:
			if err := c.store.MarkOperationSucceeded(ctx, op.ID); err != nil {
				return err
			}
			c.logger.Debug("synced queued operation",
				"operation_id", op.ID, "kind", op.Kind, "target_id", op.TargetID)

		case IsNetworkError(err):
			if markErr := c.store.MarkOperationFailed(ctx, op.ID, err); markErr != nil {
				return markErr
			}
			c.logger.Debug("queued operation hit network error, halting batch",
				"operation_id", op.ID, "kind", op.Kind, "attempt", op.AttemptCount+1)
			return err

		default:
			// Terminal: the server (or the payload itself) rejected the
			// operation. Retrying cannot help regardless of idempotency
			// class, so move it to the abandoned list and keep draining.
			if abandonErr := c.store.AbandonOperation(ctx, op.ID, err.Error()); abandonErr != nil {
				return abandonErr
			}
			c.logger.Warn("abandoned queued operation",
				"operation_id", op.ID, "kind", op.Kind, "target_id", op.TargetID, "reason", err)
		}
	}
	return nil
}

// replay invokes the remote call an operation kind maps to.
func (c *Coordinator) replay(ctx context.Context, op *QueuedOperation) error {
	switch op.Kind {
	case OpChecklistSave:
		return c.api.SaveChecklist(ctx, op.TargetID, op.Payload)
	case OpStatusUpdate:
		var body statusUpdateBody
		if err := json.Unmarshal(op.Payload, &body); err != nil {
			return fmt.Errorf("malformed status update payload: %w", err)
		}
		return c.api.UpdateInspectionStatus(ctx, op.TargetID, body.Status)
	case OpAssignmentAccept:
		return c.api.AcceptAssignment(ctx, op.TargetID)
	case OpAssignmentReject:
		var body rejectBody
		if err := json.Unmarshal(op.Payload, &body); err != nil {
			return fmt.Errorf("malformed rejection payload: %w", err)
		}
		return c.api.RejectAssignment(ctx, op.TargetID, body.Reason)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
