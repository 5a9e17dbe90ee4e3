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

// Package store implements the local persistent cache of API resources. Each
// resource type lives in its own table of the trust domain's database and is
// keyed by its natural primary key.
package store

import (
	"database/sql"

	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/clock"
	"github.com/pkg/errors"
)

// Record is a cached resource
type Record = database.Record

// ChunkSize is the number of records written per transaction by PutBulk
const ChunkSize = 500

// BulkResult summarizes a PutBulk call
type BulkResult struct {
	// Written is the number of records inserted or refreshed
	Written int
	// Skipped is the number of records left alone because they hold
	// unconfirmed local edits
	Skipped int
	// Batches is the number of committed transactions
	Batches int
}

// Store is the local persistent cache of a single trust domain
type Store struct {
	db             *database.DB
	clock          clock.Clock
	chunkSize      int
	timestampField string
}

// Option configures a Store
type Option func(*Store)

// WithChunkSize overrides the number of records per bulk transaction
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithTimestampField sets the record field that carries the server's
// last-modified time
func WithTimestampField(field string) Option {
	return func(s *Store) {
		if field != "" {
			s.timestampField = field
		}
	}
}

// New returns a store backed by the given database
func New(db *database.DB, c clock.Clock, opts ...Option) *Store {
	s := &Store{
		db:             db,
		clock:          c,
		chunkSize:      ChunkSize,
		timestampField: consts.DefaultTimestampField,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// DB returns the underlying database
func (s *Store) DB() *database.DB {
	return s.db
}

// TimestampField returns the name of the last-modified field
func (s *Store) TimestampField() string {
	return s.timestampField
}

// Table looks up the definition of a cached table
func (s *Store) Table(name string) (database.Table, error) {
	return database.LookupTable(name)
}

// Get returns the record with the given key. Storage errors are logged and
// reported as a cache miss.
func (s *Store) Get(table, key string) (Record, bool) {
	t, err := s.Table(table)
	if err != nil {
		log.Debug("cache read: %s\n", err)
		return Record{}, false
	}

	r, err := database.GetRecord(s.db, t, key)
	if err != nil {
		if errors.Cause(err) != sql.ErrNoRows {
			log.Debug("cache read: %s\n", err)
		}
		return Record{}, false
	}

	return r, true
}

// GetAll returns every record of the table ordered by key
func (s *Store) GetAll(table string) []Record {
	t, err := s.Table(table)
	if err != nil {
		log.Debug("cache read: %s\n", err)
		return nil
	}

	ret, err := database.ListRecords(s.db, t)
	if err != nil {
		log.Debug("cache read: %s\n", err)
		return nil
	}

	return ret
}

// GetByIndex returns the records whose indexed field equals the value
func (s *Store) GetByIndex(table, index, value string) []Record {
	t, err := s.Table(table)
	if err != nil {
		log.Debug("cache read: %s\n", err)
		return nil
	}

	ret, err := database.ListRecordsByIndex(s.db, t, index, value)
	if err != nil {
		log.Debug("cache read: %s\n", err)
		return nil
	}

	return ret
}

// Put normalizes the record's key and overwrites whatever is stored under it.
// It returns the record as written.
func (s *Store) Put(table string, r Record) (Record, error) {
	t, err := s.Table(table)
	if err != nil {
		return r, err
	}

	return s.put(s.db, t, r)
}

func (s *Store) put(db *database.DB, t database.Table, r Record) (Record, error) {
	if _, err := database.NormalizeRecord(t, &r); err != nil {
		return r, err
	}
	if err := database.PutRecord(db, t, r); err != nil {
		return r, err
	}

	return r, nil
}

// FromServer builds a confirmed record out of a server representation
func (s *Store) FromServer(data map[string]interface{}) Record {
	return Record{
		Data:              data,
		Pending:           false,
		OriginalUpdatedAt: database.Timestamp(data, s.timestampField),
		SyncedAt:          s.clock.Now().UnixNano(),
	}
}

// PutServer writes the server's authoritative copy of a record
func (s *Store) PutServer(table string, data map[string]interface{}) (Record, error) {
	return s.Put(table, s.FromServer(data))
}

// RefreshServer writes the server's copy of a record unless the cached record
// holds unconfirmed local edits. It reports whether the record was written.
func (s *Store) RefreshServer(table string, data map[string]interface{}) (Record, bool, error) {
	t, err := s.Table(table)
	if err != nil {
		return Record{}, false, err
	}

	r := s.FromServer(data)
	if _, err := database.NormalizeRecord(t, &r); err != nil {
		return r, false, err
	}

	ok, err := database.RefreshRecord(s.db, t, r)
	if err != nil {
		return r, false, err
	}

	return r, ok, nil
}

// PutBulk refreshes the table with server records, ChunkSize records per
// transaction. Each chunk is committed on its own, so records of earlier
// chunks stay written if a later chunk fails. Records that hold unconfirmed
// local edits are not overwritten.
func (s *Store) PutBulk(table string, items []map[string]interface{}) (BulkResult, error) {
	var ret BulkResult

	t, err := s.Table(table)
	if err != nil {
		return ret, err
	}

	for start := 0; start < len(items); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(items) {
			end = len(items)
		}

		var written, skipped int
		err := s.db.WithTx(func(tx *database.DB) error {
			for _, item := range items[start:end] {
				r := s.FromServer(item)
				if _, err := database.NormalizeRecord(t, &r); err != nil {
					return err
				}

				ok, err := database.RefreshRecord(tx, t, r)
				if err != nil {
					return err
				}
				if ok {
					written++
				} else {
					skipped++
				}
			}

			return nil
		})
		if err != nil {
			return ret, errors.Wrapf(err, "writing batch %d of %s", ret.Batches+1, table)
		}

		ret.Written += written
		ret.Skipped += skipped
		ret.Batches++
	}

	if err := database.TouchSyncMetadata(s.db, table, s.clock.Now().UnixNano()); err != nil {
		return ret, err
	}

	return ret, nil
}

// Delete removes the record with the given key
func (s *Store) Delete(table, key string) error {
	t, err := s.Table(table)
	if err != nil {
		return err
	}

	return database.DeleteRecord(s.db, t, key)
}

// Clear removes every record of the table
func (s *Store) Clear(table string) error {
	t, err := s.Table(table)
	if err != nil {
		return err
	}

	return database.ClearTable(s.db, t)
}

// Count returns the number of records in the table
func (s *Store) Count(table string) (int, error) {
	t, err := s.Table(table)
	if err != nil {
		return 0, err
	}

	return database.CountRecords(s.db, t)
}

// CountPending returns the number of records holding unconfirmed local edits
func (s *Store) CountPending(table string) (int, error) {
	t, err := s.Table(table)
	if err != nil {
		return 0, err
	}

	return database.CountPendingRecords(s.db, t)
}

// LastSyncedAt returns when the table was last refreshed from the server
func (s *Store) LastSyncedAt(table string) (int64, error) {
	return database.GetSyncMetadata(s.db, table)
}

// Wipe clears every table of the trust domain, the outbox included
func (s *Store) Wipe() error {
	return database.Wipe(s.db)
}
