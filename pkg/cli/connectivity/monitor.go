/* Copyright 2025 Carebook Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package connectivity tracks whether the server is reachable and triggers
// outbox drains when it is.
package connectivity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/sync"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
)

// State is the connectivity state
type State int32

const (
	// Offline means the server is unreachable. Writes go to the outbox.
	Offline State = iota
	// OnlineIdle means the server is reachable and no drain is running
	OnlineIdle
	// OnlineSyncing means a drain is running
	OnlineSyncing
)

func (s State) String() string {
	switch s {
	case OnlineIdle:
		return "online"
	case OnlineSyncing:
		return "syncing"
	default:
		return "offline"
	}
}

// ErrRunning is returned by Run if the monitor is already running
var ErrRunning = errors.New("monitor is already running")

// Drainer replays the outbox
type Drainer interface {
	Drain(ctx context.Context) (sync.Report, error)
}

// stateFunc handles one state. It blocks until a transition is due and
// returns the next state, or nil to stop.
type stateFunc func(ctx context.Context) (stateFunc, error)

// Monitor is the connectivity state machine. Signals may be sent from any
// goroutine; transitions and drains happen on the goroutine calling Run.
type Monitor struct {
	drainer  Drainer
	interval time.Duration
	onChange func(State)

	state     atomic.Int32
	connected atomic.Bool
	started   atomic.Bool

	wake chan struct{}
	tick chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval makes the monitor drain periodically while online. Intervals
// are rounded down to the second.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// OnChange registers a function called on every state transition, on the
// monitor's goroutine
func OnChange(fn func(State)) Option {
	return func(m *Monitor) {
		m.onChange = fn
	}
}

// NewMonitor returns a monitor in the Offline state
func NewMonitor(d Drainer, opts ...Option) *Monitor {
	m := &Monitor{
		drainer: d,
		wake:    make(chan struct{}, 1),
		tick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// State returns the current state. Before Run is called, it only reflects
// the last connectivity signal.
func (m *Monitor) State() State {
	if !m.started.Load() {
		if m.connected.Load() {
			return OnlineIdle
		}
		return Offline
	}

	return State(m.state.Load())
}

// Online tells if the server was reachable at the last signal
func (m *Monitor) Online() bool {
	return m.connected.Load()
}

// SetOnline signals that the server is reachable
func (m *Monitor) SetOnline() {
	m.connected.Store(true)
	post(m.wake)
}

// SetOffline signals that the server is unreachable
func (m *Monitor) SetOffline() {
	m.connected.Store(false)
	post(m.wake)
}

// Tick requests a drain if the monitor is idle
func (m *Monitor) Tick() {
	post(m.tick)
}

// post wakes up the monitor without blocking. Signals sent while one is
// already pending collapse into it.
func post(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run drives the state machine until the context is done
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer m.started.Store(false)

	if m.interval > 0 {
		c := cron.New()
		c.Schedule(cron.Every(m.interval), cron.FuncJob(m.Tick))
		c.Start()
		defer c.Stop()
	}

	var err error
	next := m.offline
	if m.connected.Load() {
		next = m.syncing
	}

	for next != nil && err == nil {
		next, err = next(ctx)
	}

	return err
}

func (m *Monitor) enter(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}

	log.Debug("connectivity: %s -> %s\n", prev, s)
	if m.onChange != nil {
		m.onChange(s)
	}
}

func (m *Monitor) offline(ctx context.Context) (stateFunc, error) {
	m.enter(Offline)

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-m.tick:
		case <-m.wake:
			if m.connected.Load() {
				return m.syncing, nil
			}
		}
	}
}

func (m *Monitor) idle(ctx context.Context) (stateFunc, error) {
	m.enter(OnlineIdle)

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-m.tick:
			return m.syncing, nil
		case <-m.wake:
			if !m.connected.Load() {
				return m.offline, nil
			}
		}
	}
}

func (m *Monitor) syncing(ctx context.Context) (stateFunc, error) {
	m.enter(OnlineSyncing)

	report, err := m.drainer.Drain(ctx)
	if ctx.Err() != nil {
		return nil, nil
	}
	if err != nil {
		log.Debug("connectivity: drain failed: %s\n", err)
	} else {
		log.Debug("connectivity: drained %+v\n", report)
	}

	if !m.connected.Load() {
		return m.offline, nil
	}

	return m.idle, nil
}
