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

// Package outbox implements the durable queue of writes that could not be
// sent to the server yet. Enqueueing an operation also applies its expected
// effect to the local store so that reads reflect it right away.
package outbox

import (
	"database/sql"
	"encoding/json"
	"path"
	"strings"

	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/carebook/carebook/pkg/cli/utils"
	"github.com/carebook/carebook/pkg/clock"
	"github.com/pkg/errors"
)

// Kind is the kind of a queued write
type Kind string

const (
	// KindCreate creates a resource
	KindCreate Kind = "create"
	// KindUpdate patches a resource
	KindUpdate Kind = "update"
	// KindDelete deletes a resource
	KindDelete Kind = "delete"
)

// ErrUnknownKind is returned for an operation kind that is not supported
var ErrUnknownKind = errors.New("unknown operation kind")

// Status is the persisted status of a queued operation
type Status string

const (
	// StatusPending has not been attempted
	StatusPending Status = "pending"
	// StatusFailed has failed at least once and waits for a retry
	StatusFailed Status = "failed"
)

// Operation is a queued write
type Operation struct {
	ID        int64
	Kind      Kind
	Table     string
	Endpoint  string
	RecordKey string
	Payload   map[string]interface{}
	// OriginalUpdatedAt is the server's last-modified time of the record as
	// it was before the first local edit, in unix nanoseconds. 0 if unknown.
	OriginalUpdatedAt int64
	CreatedAt         int64
	RetryCount        int
	Status            Status
	NextAttemptAt     int64
	LastError         string
}

// IsTemporary tells if the operation targets a record that has not been
// assigned a key by the server yet
func (op Operation) IsTemporary() bool {
	return IsTemporaryKey(op.RecordKey)
}

// IsTemporaryKey tells if the key was generated locally for an unconfirmed
// create
func IsTemporaryKey(key string) bool {
	return strings.HasPrefix(key, consts.TempKeyPrefix)
}

// NewTemporaryKey generates a key for a record created offline
func NewTemporaryKey() (string, error) {
	id, err := utils.GenerateUUID()
	if err != nil {
		return "", err
	}

	return consts.TempKeyPrefix + id, nil
}

// Outbox is the queue of pending writes of a trust domain
type Outbox struct {
	store *store.Store
	clock clock.Clock
}

// New returns an outbox sharing the database of the store
func New(s *store.Store, c clock.Clock) *Outbox {
	return &Outbox{store: s, clock: c}
}

func clonePayload(p map[string]interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, len(p))
	for k, v := range p {
		ret[k] = v
	}

	return ret
}

// recordKey returns the key of the record targeted by an update or delete
func recordKey(t database.Table, endpoint string, payload map[string]interface{}) string {
	if key := database.KeyString(payload[t.KeyField]); key != "" {
		return key
	}

	return path.Base(strings.TrimRight(endpoint, "/"))
}

// Enqueue persists an operation and applies its optimistic effect to the
// store in one transaction:
//
//   - create stores the payload under a new temporary key, flagged pending
//   - update merges the payload into the cached record and flags it pending
//   - delete removes the cached record
func (o *Outbox) Enqueue(kind Kind, table, endpoint string, payload map[string]interface{}) (Operation, error) {
	t, err := o.store.Table(table)
	if err != nil {
		return Operation{}, err
	}

	op := Operation{
		Kind:      kind,
		Table:     table,
		Endpoint:  endpoint,
		Payload:   clonePayload(payload),
		CreatedAt: o.clock.Now().UnixNano(),
		Status:    StatusPending,
	}

	err = o.store.DB().WithTx(func(tx *database.DB) error {
		switch kind {
		case KindCreate:
			if err := o.applyCreate(tx, t, &op); err != nil {
				return err
			}
		case KindUpdate:
			if err := o.applyUpdate(tx, t, &op); err != nil {
				return err
			}
		case KindDelete:
			op.RecordKey = recordKey(t, endpoint, op.Payload)
			if err := database.DeleteRecord(tx, t, op.RecordKey); err != nil {
				return err
			}
		default:
			return errors.Wrapf(ErrUnknownKind, "'%s'", kind)
		}

		return insertOperation(tx, &op)
	})
	if err != nil {
		return Operation{}, errors.Wrapf(err, "queueing %s of %s", kind, table)
	}

	log.Debug("outbox: queued #%d %s %s %s\n", op.ID, op.Kind, op.Table, op.RecordKey)

	return op, nil
}

func (o *Outbox) applyCreate(tx *database.DB, t database.Table, op *Operation) error {
	key, err := NewTemporaryKey()
	if err != nil {
		return err
	}
	op.RecordKey = key

	data := clonePayload(op.Payload)
	data[t.KeyField] = op.RecordKey

	r := store.Record{Key: op.RecordKey, Data: data, Pending: true}

	return database.PutRecord(tx, t, r)
}

func (o *Outbox) applyUpdate(tx *database.DB, t database.Table, op *Operation) error {
	op.RecordKey = recordKey(t, op.Endpoint, op.Payload)

	existing, err := database.GetRecord(tx, t, op.RecordKey)
	if errors.Cause(err) == sql.ErrNoRows {
		log.Debug("outbox: %s %s is not cached; queueing the update without a timestamp\n", t.Name, op.RecordKey)
		return nil
	} else if err != nil {
		return err
	}

	r := existing.Clone()
	for k, v := range op.Payload {
		if k == t.KeyField {
			continue
		}
		r.Data[k] = v
	}

	// The timestamp of a pending record was captured at its first local edit
	// and must not move until the server confirms a write.
	if !existing.Pending && r.OriginalUpdatedAt == 0 {
		r.OriginalUpdatedAt = database.Timestamp(existing.Data, o.store.TimestampField())
	}
	r.Pending = true
	op.OriginalUpdatedAt = r.OriginalUpdatedAt

	return database.PutRecord(tx, t, r)
}

const operationColumns = `id, kind, table_name, endpoint, record_key, payload, original_updated_at,
	created_at, retry_count, status, next_attempt_at, last_error`

func insertOperation(db *database.DB, op *Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}

	res, err := db.Exec(`INSERT INTO outbox
		(kind, table_name, endpoint, record_key, payload, original_updated_at, created_at, retry_count, status, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Kind, op.Table, op.Endpoint, op.RecordKey, string(payload), op.OriginalUpdatedAt,
		op.CreatedAt, op.RetryCount, op.Status, op.NextAttemptAt, op.LastError)
	if err != nil {
		return errors.Wrap(err, "inserting operation")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "getting operation id")
	}
	op.ID = id

	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(s scanner) (Operation, error) {
	var op Operation
	var payload string

	err := s.Scan(&op.ID, &op.Kind, &op.Table, &op.Endpoint, &op.RecordKey, &payload, &op.OriginalUpdatedAt,
		&op.CreatedAt, &op.RetryCount, &op.Status, &op.NextAttemptAt, &op.LastError)
	if err != nil {
		return op, err
	}

	p, err := database.DecodeData([]byte(payload))
	if err != nil {
		return op, errors.Wrapf(err, "operation %d", op.ID)
	}
	op.Payload = p

	return op, nil
}

func listOperations(db *database.DB) ([]Operation, error) {
	rows, err := db.Query("SELECT " + operationColumns + " FROM outbox ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "querying outbox")
	}
	defer rows.Close()

	var ret []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning operation")
		}

		ret = append(ret, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating outbox")
	}

	return ret, nil
}

// List returns every queued operation, oldest first
func (o *Outbox) List() ([]Operation, error) {
	return listOperations(o.store.DB())
}

// Get returns the operation with the given id
func (o *Outbox) Get(id int64) (Operation, error) {
	row := o.store.DB().QueryRow("SELECT "+operationColumns+" FROM outbox WHERE id = ?", id)

	op, err := scanOperation(row)
	if err != nil {
		return op, errors.Wrapf(err, "getting operation %d", id)
	}

	return op, nil
}

// Count returns the number of queued operations
func (o *Outbox) Count() (int, error) {
	var ret int
	if err := o.store.DB().QueryRow("SELECT count(*) FROM outbox").Scan(&ret); err != nil {
		return 0, errors.Wrap(err, "counting outbox")
	}

	return ret, nil
}

// Remove deletes an operation from the queue
func (o *Outbox) Remove(id int64) error {
	if _, err := o.store.DB().Exec("DELETE FROM outbox WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "removing operation %d", id)
	}

	return nil
}

// ScheduleRetry records a failed attempt of an operation
func (o *Outbox) ScheduleRetry(id int64, retryCount int, nextAttemptAt int64, lastError string) error {
	_, err := o.store.DB().Exec(`UPDATE outbox
		SET retry_count = ?, next_attempt_at = ?, last_error = ?, status = ?
		WHERE id = ?`, retryCount, nextAttemptAt, lastError, StatusFailed, id)
	if err != nil {
		return errors.Wrapf(err, "scheduling retry of operation %d", id)
	}

	return nil
}

// HasOther tells if an operation other than the given one targets the record
func (o *Outbox) HasOther(table, key string, id int64) (bool, error) {
	var n int
	err := o.store.DB().QueryRow("SELECT count(*) FROM outbox WHERE table_name = ? AND record_key = ? AND id != ?",
		table, key, id).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "counting operations on %s %s", table, key)
	}

	return n > 0, nil
}

// RemoveDependents deletes the queued operations on a record, and those whose
// endpoint goes through it, after a create of the record has been dropped.
// It returns the removed operations.
func (o *Outbox) RemoveDependents(key string) ([]Operation, error) {
	var ret []Operation

	err := o.store.DB().WithTx(func(tx *database.DB) error {
		ops, err := listOperations(tx)
		if err != nil {
			return err
		}

		for _, op := range ops {
			if op.RecordKey != key && !strings.Contains(op.Endpoint+"/", "/"+key+"/") {
				continue
			}

			if _, err := tx.Exec("DELETE FROM outbox WHERE id = ?", op.ID); err != nil {
				return errors.Wrapf(err, "removing operation %d", op.ID)
			}
			ret = append(ret, op)
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "removing operations depending on %s", key)
	}

	return ret, nil
}

func retargetEndpoint(endpoint, oldKey, newKey string) string {
	parts := strings.Split(endpoint, "/")
	for i, p := range parts {
		if p == oldKey {
			parts[i] = newKey
		}
	}

	return strings.Join(parts, "/")
}

func retargetPayload(payload map[string]interface{}, oldKey, newKey string) bool {
	var changed bool
	for k, v := range payload {
		if s, ok := v.(string); ok && s == oldKey {
			payload[k] = newKey
			changed = true
		}
	}

	return changed
}

// Retarget rewrites queued operations that refer to a temporary key, once the
// server has assigned the real one. Operations on the record itself as well
// as operations whose endpoint or payload reference it, such as a visit
// created for a patient that was itself created offline, are rewritten. It
// returns the number of operations changed.
func (o *Outbox) Retarget(oldKey, newKey string) (int, error) {
	var n int

	err := o.store.DB().WithTx(func(tx *database.DB) error {
		ops, err := listOperations(tx)
		if err != nil {
			return err
		}

		for _, op := range ops {
			endpoint := retargetEndpoint(op.Endpoint, oldKey, newKey)
			changed := retargetPayload(op.Payload, oldKey, newKey) || endpoint != op.Endpoint

			key := op.RecordKey
			if key == oldKey {
				key = newKey
				changed = true
			}
			if !changed {
				continue
			}

			payload, err := json.Marshal(op.Payload)
			if err != nil {
				return errors.Wrap(err, "encoding payload")
			}

			if _, err := tx.Exec("UPDATE outbox SET endpoint = ?, record_key = ?, payload = ? WHERE id = ?",
				endpoint, key, string(payload), op.ID); err != nil {
				return errors.Wrapf(err, "retargeting operation %d", op.ID)
			}
			n++
		}

		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "retargeting %s", oldKey)
	}

	return n, nil
}

// Rebase sets the captured timestamp of the queued updates of a record to the
// one the server confirmed, so that consecutive local edits of a record do
// not conflict with each other. It returns the number of operations changed.
func (o *Outbox) Rebase(table, key string, ts int64) (int, error) {
	res, err := o.store.DB().Exec(`UPDATE outbox SET original_updated_at = ?
		WHERE table_name = ? AND record_key = ? AND kind = ?`, ts, table, key, KindUpdate)
	if err != nil {
		return 0, errors.Wrapf(err, "rebasing updates of %s %s", table, key)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting affected rows")
	}

	return int(n), nil
}
