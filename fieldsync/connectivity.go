// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"sync"
)

// Signal abstracts the platform's native online/offline source (browser
// navigator events, mobile reachability callbacks). The monitor trusts the
// signal; it never performs its own liveness probe. A false "online" is
// corrected per-operation by error classification on the actual request, not
// by flipping the monitor.
type Signal interface {
	// Online returns the platform's current belief.
	Online() bool
	// Subscribe registers fn for transition events and returns a cancel
	// function that removes the subscription.
	Subscribe(fn func(online bool)) (cancel func())
}

// ManualSignal is a Signal driven by explicit Set calls. It serves tests and
// runtimes without a native connectivity source.
type ManualSignal struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManualSignal returns a ManualSignal with the given initial state.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{online: online, subs: make(map[int]func(bool))}
}

func (s *ManualSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *ManualSignal) Subscribe(fn func(online bool)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Set updates the signal state and notifies subscribers. Platform sources
// may deliver duplicate events; Set forwards them as-is (deduplication is the
// monitor's job).
func (s *ManualSignal) Set(online bool) {
	s.mu.Lock()
	s.online = online
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// Monitor is the single source of truth for "can we currently reach the
// network". It seeds its state from the Signal at construction, tracks
// transitions, and notifies subscribers at most once per actual transition
// even when the platform fires duplicate identical events.
type Monitor struct {
	mu           sync.Mutex
	online       bool
	subs         map[int]func(bool)
	nextID       int
	cancelSignal func()
	closed       bool
}

// NewMonitor subscribes to sig and returns a monitor seeded with its current
// state. Close must be called when the owning session ends so the platform
// subscription is not leaked.
func NewMonitor(sig Signal) *Monitor {
	m := &Monitor{
		online: sig.Online(),
		subs:   make(map[int]func(bool)),
	}
	m.cancelSignal = sig.Subscribe(m.setOnline)
	return m
}

// IsOnline returns a synchronous snapshot of the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnStatusChange registers cb to fire on every actual transition. The
// returned function unsubscribes it. Callbacks run on the goroutine that
// delivered the platform event and must not block.
func (m *Monitor) OnStatusChange(cb func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Close removes the platform subscription and all callbacks. After Close
// returns, no callback fires. Close is idempotent.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancelSignal
	m.subs = make(map[int]func(bool))
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	if m.closed || m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	cbs := make([]func(bool), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(online)
	}
}
