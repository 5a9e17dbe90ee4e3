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

// Package conflict replays queued updates under the reject-and-refresh
// policy. A queued update is only sent if the server's copy of the record has
// not changed since the local edit was made. Otherwise the edit is discarded,
// the server's copy replaces the local one and the user is asked to redo the
// edit. Fields are never merged.
package conflict

import (
	"context"

	"github.com/carebook/carebook/pkg/cli/client"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/outbox"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/carebook/carebook/pkg/cli/utils/diff"
	"github.com/pkg/errors"
)

// Outcome is the result of resolving a queued update
type Outcome int

const (
	// Applied means the update was sent and confirmed
	Applied Outcome = iota
	// Rejected means the update was discarded in favor of the server's copy
	Rejected
)

func (o Outcome) String() string {
	if o == Rejected {
		return "rejected"
	}

	return "applied"
}

// Result is the resolution of a queued update
type Result struct {
	Outcome Outcome
	// Record is the cached record after resolution
	Record store.Record
}

// Resolver decides the fate of queued updates
type Resolver struct {
	client   *client.Client
	store    *store.Store
	outbox   *outbox.Outbox
	notifier notify.Notifier
}

// New returns a resolver
func New(c *client.Client, s *store.Store, o *outbox.Outbox, n notify.Notifier) *Resolver {
	return &Resolver{
		client:   c,
		store:    s,
		outbox:   o,
		notifier: n,
	}
}

// IsStale tells if a server copy last modified at serverTs supersedes a
// local edit made on a copy last modified at localTs. An unknown local
// timestamp never makes an edit stale.
func IsStale(localTs, serverTs int64) bool {
	return localTs != 0 && serverTs > localTs
}

// Resolve replays a queued update. Errors are returned unclassified; a
// record that no longer exists on the server surfaces as a not found error.
func (r *Resolver) Resolve(ctx context.Context, op outbox.Operation) (Result, error) {
	if op.Kind != outbox.KindUpdate {
		return Result{}, errors.Errorf("cannot resolve a %s", op.Kind)
	}

	server, err := r.client.GetRecord(ctx, op.Endpoint)
	if err != nil {
		return Result{}, errors.Wrapf(err, "fetching the server copy of %s %s", op.Table, op.RecordKey)
	}

	serverTs := database.Timestamp(server, r.store.TimestampField())
	if IsStale(op.OriginalUpdatedAt, serverTs) {
		return r.reject(op, server)
	}

	resp, err := r.client.Update(ctx, op.Endpoint, op.Payload, op.OriginalUpdatedAt)
	if err != nil {
		if client.IsConflict(err) {
			log.Debug("conflict: server refused update of %s %s\n", op.Table, op.RecordKey)
			if latest, gerr := r.client.GetRecord(ctx, op.Endpoint); gerr == nil {
				server = latest
			}

			return r.reject(op, server)
		}

		return Result{}, err
	}

	rec, err := r.confirm(op, resp)
	if err != nil {
		return Result{}, err
	}

	return Result{Outcome: Applied, Record: rec}, nil
}

func (r *Resolver) confirm(op outbox.Operation, resp map[string]interface{}) (store.Record, error) {
	others, err := r.outbox.HasOther(op.Table, op.RecordKey, op.ID)
	if err != nil {
		return store.Record{}, err
	}

	rec := r.store.FromServer(resp)
	if others {
		merged, ok, err := r.store.ReplaceKey(op.Table, op.RecordKey, rec, true)
		if err != nil {
			return store.Record{}, err
		}
		if ok {
			return merged, nil
		}
	}

	rec, err = r.store.Put(op.Table, rec)
	if err != nil {
		return store.Record{}, errors.Wrapf(err, "caching %s %s", op.Table, op.RecordKey)
	}

	return rec, nil
}

func payloadFields(payload map[string]interface{}) []string {
	ret := make([]string, 0, len(payload))
	for k := range payload {
		ret = append(ret, k)
	}

	return ret
}

func (r *Resolver) reject(op outbox.Operation, server map[string]interface{}) (Result, error) {
	rec, err := r.store.PutServer(op.Table, server)
	if err != nil {
		return Result{}, errors.Wrapf(err, "refreshing %s %s", op.Table, op.RecordKey)
	}

	fields := payloadFields(op.Payload)
	d := diff.Format(diff.Do(diff.Fields(op.Payload, fields), diff.Fields(server, fields)))

	if r.notifier != nil {
		r.notifier.Notify(notify.Notice{
			Kind:    notify.KindConflict,
			Table:   op.Table,
			Key:     op.RecordKey,
			Message: "the record was changed on the server after your edit",
			Diff:    d,
		})
	}

	return Result{Outcome: Rejected, Record: rec}, nil
}
