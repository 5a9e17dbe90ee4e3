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

package connectivity

import (
	"context"
	"time"

	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/robfig/cron"
)

// ProbeTimeout bounds a single health check
const ProbeTimeout = 5 * time.Second

// Checker checks that the server is reachable
type Checker interface {
	Health(ctx context.Context) error
}

// Prober feeds the results of health checks to a monitor
type Prober struct {
	checker  Checker
	monitor  *Monitor
	interval time.Duration
}

// NewProber returns a prober checking at the given interval
func NewProber(c Checker, m *Monitor, interval time.Duration) *Prober {
	return &Prober{
		checker:  c,
		monitor:  m,
		interval: interval,
	}
}

// Probe checks the server once and signals the monitor. It returns true if
// the server is reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	if err := p.checker.Health(ctx); err != nil {
		log.Debug("connectivity: health check failed: %s\n", err)
		p.monitor.SetOffline()
		return false
	}

	p.monitor.SetOnline()
	return true
}

// Run probes the server at the prober's interval until the context is done
func (p *Prober) Run(ctx context.Context) {
	c := cron.New()
	c.Schedule(cron.Every(p.interval), cron.FuncJob(func() {
		p.Probe(ctx)
	}))
	c.Start()

	<-ctx.Done()
	c.Stop()
}
