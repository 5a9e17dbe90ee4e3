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

// Package offline is the entry point for reads and writes of server
// resources. It serves reads from the server when it is reachable and from
// the local cache otherwise, and queues writes made while offline.
package offline

import (
	"context"
	"net/http"
	"time"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/cache"
	"github.com/carebook/carebook/pkg/cli/client"
	"github.com/carebook/carebook/pkg/cli/connectivity"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/outbox"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/carebook/carebook/pkg/cli/sync"
	"github.com/pkg/errors"
)

// ProbeInterval is the interval between health checks while the service runs
const ProbeInterval = 15 * time.Second

// ErrNoRoute is returned for a path that does not map to a cached resource
var ErrNoRoute = errors.New("no cache route for path")

// ReadResult is the result of a read
type ReadResult struct {
	Records []map[string]interface{}
	// FromCache is set if the records were read from the local cache
	FromCache bool
}

// WriteResult is the result of a write
type WriteResult struct {
	// Record is the record as stored after the write, nil for deletes
	Record map[string]interface{}
	// Queued is set if the write was queued rather than sent
	Queued bool
	// Op is the queued operation if Queued is set
	Op outbox.Operation
}

// Service wires the cache, the outbox, the sync engine and the connectivity
// monitor together. A process has one Service per open database.
type Service struct {
	store   *store.Store
	router  *cache.Router
	client  *client.Client
	outbox  *outbox.Outbox
	engine  *sync.Engine
	monitor *connectivity.Monitor
	prober  *connectivity.Prober
}

// New returns a service for the context. Options are passed to the
// connectivity monitor.
func New(ctx appctx.Ctx, n notify.Notifier, opts ...connectivity.Option) (*Service, error) {
	s := store.New(ctx.DB, ctx.Clock, store.WithTimestampField(ctx.TimestampField))

	router, err := cache.NewDefaultRouter(ctx.APIEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "building cache routes")
	}

	base := ctx.HTTPClient
	if base == nil {
		base = client.NewRateLimitedHTTPClient()
	}
	hc := &http.Client{
		Transport: cache.NewInterceptor(base.Transport, s, router),
		Timeout:   base.Timeout,
	}

	c := client.New(ctx.APIEndpoint, ctx.Version, hc)
	c.SessionKey = ctx.SessionKey
	c.ConditionalUpdates = ctx.ConditionalUpdates

	policy := outbox.DefaultPolicy
	if ctx.RetryCeiling > 0 {
		policy.Ceiling = ctx.RetryCeiling
	}

	o := outbox.New(s, ctx.Clock)
	engine := sync.New(c, s, o, n, ctx.Clock, policy)

	if ctx.SyncInterval > 0 {
		opts = append([]connectivity.Option{connectivity.WithInterval(ctx.SyncInterval)}, opts...)
	}
	monitor := connectivity.NewMonitor(engine, opts...)

	return &Service{
		store:   s,
		router:  router,
		client:  c,
		outbox:  o,
		engine:  engine,
		monitor: monitor,
		prober:  connectivity.NewProber(c, monitor, ProbeInterval),
	}, nil
}

// Store returns the local store
func (s *Service) Store() *store.Store {
	return s.store
}

// Outbox returns the outbox
func (s *Service) Outbox() *outbox.Outbox {
	return s.outbox
}

// Monitor returns the connectivity monitor
func (s *Service) Monitor() *connectivity.Monitor {
	return s.monitor
}

// Probe checks whether the server is reachable and updates the connectivity
// state
func (s *Service) Probe(ctx context.Context) bool {
	return s.prober.Probe(ctx)
}

// Run probes the server periodically and drains the outbox whenever it is
// reachable, until the context is done
func (s *Service) Run(ctx context.Context) error {
	s.prober.Probe(ctx)
	go s.prober.Run(ctx)

	return s.monitor.Run(ctx)
}

// SyncNow runs one drain pass
func (s *Service) SyncNow(ctx context.Context) (sync.Report, error) {
	return s.engine.Drain(ctx)
}

// wentOffline records a network failure. It returns true if err is one.
func (s *Service) wentOffline(err error) bool {
	if !client.IsNetworkError(err) {
		return false
	}

	log.Debug("offline: %s\n", err)
	s.monitor.SetOffline()

	return true
}

// Fetch reads the resources at path. When the server cannot be reached, the
// cached records are returned instead.
func (s *Service) Fetch(ctx context.Context, path string) (ReadResult, error) {
	if s.monitor.Online() {
		body, err := s.client.Get(ctx, path)
		if err == nil {
			env, err := cache.Unwrap(body)
			if err != nil {
				return ReadResult{}, errors.Wrap(err, "decoding response")
			}

			return ReadResult{Records: env.Items}, nil
		}
		if !s.wentOffline(err) {
			return ReadResult{}, err
		}
	}

	return s.fetchCached(path)
}

func (s *Service) fetchCached(path string) (ReadResult, error) {
	m, ok := s.router.Match(http.MethodGet, path)
	if !ok {
		return ReadResult{}, errors.Wrapf(ErrNoRoute, "'%s'", path)
	}

	var recs []store.Record
	if key, ok := m.Key(); ok {
		if r, found := s.store.Get(m.Route.Table, key); found {
			recs = append(recs, r)
		}
	} else if field, val, ok := m.IndexValue(); ok {
		recs = s.store.GetByIndex(m.Route.Table, field, val)
	} else {
		recs = s.store.GetAll(m.Route.Table)
	}

	ret := ReadResult{FromCache: true, Records: []map[string]interface{}{}}
	for _, r := range recs {
		ret.Records = append(ret.Records, r.Data)
	}

	return ret, nil
}

// direct tells if a write can be sent right away. Writes are queued while
// offline, and also while older writes are queued so that they are applied
// in order.
func (s *Service) direct() (bool, error) {
	if !s.monitor.Online() {
		return false, nil
	}

	n, err := s.outbox.Count()
	if err != nil {
		return false, err
	}

	return n == 0, nil
}

func (s *Service) enqueue(kind outbox.Kind, table, endpoint string, payload map[string]interface{}) (WriteResult, error) {
	op, err := s.outbox.Enqueue(kind, table, endpoint, payload)
	if err != nil {
		return WriteResult{}, err
	}

	ret := WriteResult{Queued: true, Op: op}
	if kind != outbox.KindDelete {
		if r, ok := s.store.Get(table, op.RecordKey); ok {
			ret.Record = r.Data
		}
	}

	return ret, nil
}

// Create creates a resource of the table by posting payload to endpoint
func (s *Service) Create(ctx context.Context, table, endpoint string, payload map[string]interface{}) (WriteResult, error) {
	ok, err := s.direct()
	if err != nil {
		return WriteResult{}, err
	}

	if ok {
		resp, err := s.client.Create(ctx, endpoint, payload)
		if err == nil {
			return WriteResult{Record: resp}, nil
		}
		if !s.wentOffline(err) {
			return WriteResult{}, err
		}
	}

	return s.enqueue(outbox.KindCreate, table, endpoint, payload)
}

// Update patches the resource at endpoint
func (s *Service) Update(ctx context.Context, table, endpoint string, payload map[string]interface{}) (WriteResult, error) {
	ok, err := s.direct()
	if err != nil {
		return WriteResult{}, err
	}

	if ok {
		resp, err := s.client.Update(ctx, endpoint, payload, 0)
		if err == nil {
			return WriteResult{Record: resp}, nil
		}
		if !s.wentOffline(err) {
			return WriteResult{}, err
		}
	}

	return s.enqueue(outbox.KindUpdate, table, endpoint, payload)
}

// Delete deletes the resource at endpoint
func (s *Service) Delete(ctx context.Context, table, endpoint string) (WriteResult, error) {
	ok, err := s.direct()
	if err != nil {
		return WriteResult{}, err
	}

	if ok {
		err := s.client.Delete(ctx, endpoint)
		if err == nil {
			return WriteResult{}, nil
		}
		if !s.wentOffline(err) {
			return WriteResult{}, err
		}
	}

	return s.enqueue(outbox.KindDelete, table, endpoint, nil)
}

// Logout ends the session. The server is told on a best effort basis, then
// every cached record and queued write of the domain is wiped.
func (s *Service) Logout(ctx context.Context) error {
	if s.client.SessionKey != "" {
		if err := s.client.Signout(ctx); err != nil {
			log.Debug("offline: signing out: %s\n", err)
		}
	}

	if err := s.store.Wipe(); err != nil {
		return errors.Wrap(err, "wiping local data")
	}

	return nil
}
