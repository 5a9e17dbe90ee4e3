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

// Package sync replays the outbox against the server. Operations are replayed
// one at a time in the order they were queued.
package sync

import (
	"context"
	"database/sql"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/carebook/carebook/pkg/cli/cache"
	"github.com/carebook/carebook/pkg/cli/client"
	"github.com/carebook/carebook/pkg/cli/conflict"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/outbox"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/carebook/carebook/pkg/clock"
	"github.com/pkg/errors"
)

// Report summarizes a drain pass
type Report struct {
	// Succeeded is the number of operations confirmed by the server
	Succeeded int
	// Rejected is the number of updates discarded because of a conflict
	Rejected int
	// Dropped is the number of operations given up on
	Dropped int
	// Deferred is the number of operations left for a later pass
	Deferred int
	// Skipped is set if another pass was already running, in this process or
	// in another one sharing the database
	Skipped bool
}

// DrainLease is how long a drain pass holds the outbox without renewing its
// lease. The lease is renewed before every operation.
var DrainLease = 2 * time.Minute

// Engine drains the outbox
type Engine struct {
	client   *client.Client
	store    *store.Store
	outbox   *outbox.Outbox
	resolver *conflict.Resolver
	notifier notify.Notifier
	clock    clock.Clock
	policy   outbox.Policy

	running atomic.Bool
	// leaseUntil is the expiry of the held drain lease. Guarded by running.
	leaseUntil int64
}

// New returns an engine
func New(c *client.Client, s *store.Store, o *outbox.Outbox, n notify.Notifier, clk clock.Clock, p outbox.Policy) *Engine {
	return &Engine{
		client:   c,
		store:    s,
		outbox:   o,
		resolver: conflict.New(c, s, o, n),
		notifier: n,
		clock:    clk,
		policy:   p,
	}
}

// Running tells if a drain pass is in progress
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Drain replays the queued operations oldest first, each one resolved before
// the next one starts. The pass ends early when an operation has to wait for
// a retry, so that no operation overtakes an older one. If a pass is already
// running, Drain returns right away with Report.Skipped set.
//
// Replay requests bypass the cache interceptor. The engine reconciles the
// cache itself once the server has answered, so that a confirmed create never
// shows up under both its temporary and its server key.
func (e *Engine) Drain(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		log.Debug("sync: a drain is already in progress\n")
		return Report{Skipped: true}, nil
	}
	defer e.running.Store(false)

	claimed, err := e.claim()
	if err != nil {
		return Report{}, err
	}
	if !claimed {
		log.Debug("sync: another process is draining the outbox\n")
		return Report{Skipped: true}, nil
	}
	defer e.releaseLease()

	ctx = cache.Passthrough(ctx)

	var report Report

	ops, err := e.outbox.List()
	if err != nil {
		return report, errors.Wrap(err, "listing outbox")
	}

	for i, queued := range ops {
		if err := ctx.Err(); err != nil {
			report.Deferred = len(ops) - i
			return report, err
		}

		// earlier replays may have removed or retargeted this operation
		op, err := e.outbox.Get(queued.ID)
		if errors.Cause(err) == sql.ErrNoRows {
			continue
		} else if err != nil {
			return report, err
		}

		now := e.clock.Now().UnixNano()
		if op.NextAttemptAt > now {
			log.Debug("sync: #%d is not due yet\n", op.ID)
			report.Deferred = len(ops) - i
			break
		}

		held, err := e.renew()
		if err != nil {
			return report, err
		}
		if !held {
			log.Debug("sync: lost the drain lease\n")
			report.Deferred = len(ops) - i
			return report, nil
		}

		stop, err := e.process(ctx, op, &report)
		if err != nil {
			return report, err
		}
		if stop {
			report.Deferred = len(ops) - i
			break
		}
	}

	now := e.clock.Now().UnixNano()
	if err := database.UpsertSystem(e.store.DB(), consts.SystemLastDrainAt, strconv.FormatInt(now, 10)); err != nil {
		return report, err
	}

	log.Debug("sync: drained %+v\n", report)

	return report, nil
}

func (e *Engine) claim() (bool, error) {
	now := e.clock.Now()
	until := now.Add(DrainLease).UnixNano()

	ok, err := database.ClaimLease(e.store.DB(), consts.SystemDrainLease, now.UnixNano(), until)
	if err != nil {
		return false, errors.Wrap(err, "claiming the outbox")
	}
	if ok {
		e.leaseUntil = until
	}

	return ok, nil
}

func (e *Engine) renew() (bool, error) {
	until := e.clock.Now().Add(DrainLease).UnixNano()

	ok, err := database.RenewLease(e.store.DB(), consts.SystemDrainLease, e.leaseUntil, until)
	if err != nil {
		return false, errors.Wrap(err, "renewing the drain lease")
	}
	if ok {
		e.leaseUntil = until
	}

	return ok, nil
}

func (e *Engine) releaseLease() {
	if err := database.ReleaseLease(e.store.DB(), consts.SystemDrainLease, e.leaseUntil); err != nil {
		log.Debug("sync: %s\n", err)
	}
}

// classify maps a replay error to the failure kind driving the operation's
// state machine. Errors that do not come from the server, such as an
// undecodable response, are treated as transient so they are retried a
// bounded number of times.
func classify(err error) outbox.Failure {
	if err == nil {
		return outbox.NoFailure
	}
	if client.IsPermanent(err) {
		return outbox.PermanentFailure
	}

	return outbox.TransientFailure
}

// process replays one operation and moves it to its next state. It returns
// true if the pass must stop.
func (e *Engine) process(ctx context.Context, op outbox.Operation, report *Report) (bool, error) {
	log.Debug("sync: replaying #%d %s %s\n", op.ID, op.Kind, op.Endpoint)

	outcome, rerr := e.replay(ctx, op)

	tr := outbox.Next(op.RetryCount, classify(rerr), e.policy)
	switch tr.State {
	case outbox.Succeeded:
		if outcome == conflict.Rejected {
			report.Rejected++
		} else {
			report.Succeeded++
		}
		return false, nil
	case outbox.RetryScheduled:
		next := e.clock.Now().Add(tr.Delay).UnixNano()
		log.Debug("sync: #%d failed (%s); retry %d in %s\n", op.ID, rerr, tr.RetryCount, tr.Delay)

		if err := e.outbox.ScheduleRetry(op.ID, tr.RetryCount, next, rerr.Error()); err != nil {
			return true, err
		}
		return true, nil
	default:
		if err := e.drop(ctx, op, rerr, tr.RetryCount > e.policy.Ceiling); err != nil {
			return true, err
		}
		report.Dropped++
		return false, nil
	}
}

// replay sends one operation. A nil error means the operation was resolved
// and removed from the outbox.
func (e *Engine) replay(ctx context.Context, op outbox.Operation) (conflict.Outcome, error) {
	switch op.Kind {
	case outbox.KindCreate:
		return conflict.Applied, e.replayCreate(ctx, op)
	case outbox.KindDelete:
		return conflict.Applied, e.replayDelete(ctx, op)
	case outbox.KindUpdate:
		return e.replayUpdate(ctx, op)
	default:
		return conflict.Applied, errors.Wrapf(outbox.ErrUnknownKind, "'%s'", op.Kind)
	}
}

func (e *Engine) replayCreate(ctx context.Context, op outbox.Operation) error {
	resp, err := e.client.Create(ctx, op.Endpoint, op.Payload)
	if err != nil {
		return err
	}

	keepLocal, err := e.outbox.HasOther(op.Table, op.RecordKey, op.ID)
	if err != nil {
		return err
	}

	rec, replaced, err := e.store.ReplaceKey(op.Table, op.RecordKey, e.store.FromServer(resp), keepLocal)
	if err != nil {
		return err
	}
	if !replaced {
		log.Debug("sync: %s %s was removed locally before its creation was confirmed\n", op.Table, op.RecordKey)
	}

	if _, err := e.outbox.Retarget(op.RecordKey, rec.Key); err != nil {
		return err
	}
	if _, err := e.outbox.Rebase(op.Table, rec.Key, rec.OriginalUpdatedAt); err != nil {
		return err
	}

	return e.outbox.Remove(op.ID)
}

func (e *Engine) replayDelete(ctx context.Context, op outbox.Operation) error {
	err := e.client.Delete(ctx, op.Endpoint)
	if err != nil && !client.IsNotFound(err) {
		return err
	}

	if err := e.store.Delete(op.Table, op.RecordKey); err != nil {
		return err
	}

	return e.outbox.Remove(op.ID)
}

func (e *Engine) replayUpdate(ctx context.Context, op outbox.Operation) (conflict.Outcome, error) {
	res, err := e.resolver.Resolve(ctx, op)
	if err != nil {
		return conflict.Applied, err
	}

	if res.Outcome == conflict.Applied {
		if _, err := e.outbox.Rebase(op.Table, op.RecordKey, res.Record.OriginalUpdatedAt); err != nil {
			return res.Outcome, err
		}
	}

	return res.Outcome, e.outbox.Remove(op.ID)
}

// drop removes an operation that cannot be applied and undoes its local
// effect where possible
func (e *Engine) drop(ctx context.Context, op outbox.Operation, cause error, gaveUp bool) error {
	if err := e.outbox.Remove(op.ID); err != nil {
		return err
	}

	kind := notify.KindRejected
	if gaveUp {
		kind = notify.KindGaveUp
	}
	e.notify(kind, op, cause)

	if op.Kind == outbox.KindCreate && op.IsTemporary() {
		if err := e.store.Delete(op.Table, op.RecordKey); err != nil {
			return err
		}

		dependents, err := e.outbox.RemoveDependents(op.RecordKey)
		if err != nil {
			return err
		}
		for _, d := range dependents {
			if d.Kind == outbox.KindCreate && d.IsTemporary() {
				if err := e.store.Delete(d.Table, d.RecordKey); err != nil {
					return err
				}
			}
			e.notify(kind, d, errors.Errorf("it depends on %s %s, which could not be created", op.Table, op.RecordKey))
		}

		return nil
	}

	if op.Kind == outbox.KindCreate {
		return nil
	}

	e.restore(ctx, op)

	return nil
}

// restore replaces the local copy of a record whose queued update or delete
// was dropped by the server's copy. It is best effort.
func (e *Engine) restore(ctx context.Context, op outbox.Operation) {
	others, err := e.outbox.HasOther(op.Table, op.RecordKey, op.ID)
	if err != nil || others {
		return
	}

	server, err := e.client.GetRecord(ctx, op.Endpoint)
	if client.IsNotFound(err) {
		if err := e.store.Delete(op.Table, op.RecordKey); err != nil {
			log.Debug("sync: evicting %s %s: %s\n", op.Table, op.RecordKey, err)
		}
		return
	}
	if err != nil {
		log.Debug("sync: restoring %s %s: %s\n", op.Table, op.RecordKey, err)
		e.release(op)
		return
	}

	if _, err := e.store.PutServer(op.Table, server); err != nil {
		log.Debug("sync: restoring %s %s: %s\n", op.Table, op.RecordKey, err)
	}
}

// release clears the pending flag of a record so that the next read from the
// server refreshes it
func (e *Engine) release(op outbox.Operation) {
	r, ok := e.store.Get(op.Table, op.RecordKey)
	if !ok || !r.Pending {
		return
	}

	r.Pending = false
	if _, err := e.store.Put(op.Table, r); err != nil {
		log.Debug("sync: releasing %s %s: %s\n", op.Table, op.RecordKey, err)
	}
}

func (e *Engine) notify(kind notify.Kind, op outbox.Operation, cause error) {
	if e.notifier == nil {
		return
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
		if he, ok := client.AsHTTPError(cause); ok {
			msg = he.Message
		}
	}

	e.notifier.Notify(notify.Notice{
		Kind:    kind,
		Table:   op.Table,
		Key:     op.RecordKey,
		Message: msg,
	})
}
