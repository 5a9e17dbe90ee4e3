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

package database

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Record is a cached snapshot of one server resource
type Record struct {
	Key  string
	Data map[string]interface{}
	// Pending is true if the record was created or edited only locally
	Pending bool
	// OriginalUpdatedAt is the last server-confirmed modification time,
	// in unix nanoseconds, that a local edit was based on
	OriginalUpdatedAt int64
	// SyncedAt is the time, in unix nanoseconds, the record was last written from the server
	SyncedAt int64
}

// Clone returns a copy of the record whose data can be modified independently
func (r Record) Clone() Record {
	ret := r
	ret.Data = make(map[string]interface{}, len(r.Data))
	for k, v := range r.Data {
		ret.Data[k] = v
	}

	return ret
}

func jsonField(field string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

// DecodeData decodes a JSON object, keeping numbers as json.Number so that
// identifiers survive a round trip unchanged
func DecodeData(b []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var ret map[string]interface{}
	if err := dec.Decode(&ret); err != nil {
		return nil, errors.Wrap(err, "decoding record data")
	}

	return ret, nil
}

const recordColumns = "key, data, pending, original_updated_at, synced_at"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (Record, error) {
	var r Record
	var data string

	if err := s.Scan(&r.Key, &data, &r.Pending, &r.OriginalUpdatedAt, &r.SyncedAt); err != nil {
		return r, err
	}

	d, err := DecodeData([]byte(data))
	if err != nil {
		return r, errors.Wrapf(err, "record %s", r.Key)
	}
	r.Data = d

	return r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var ret []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning a record")
		}

		ret = append(ret, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating records")
	}

	return ret, nil
}

// GetRecord finds the record with the given key. It returns sql.ErrNoRows
// if the record does not exist.
func GetRecord(db *DB, t Table, key string) (Record, error) {
	row := db.QueryRow(fmt.Sprintf("SELECT %s FROM %s WHERE key = ?", recordColumns, t.Name), key)

	r, err := scanRecord(row)
	if err != nil {
		return r, errors.Wrapf(err, "getting %s %s", t.Name, key)
	}

	return r, nil
}

// ListRecords returns all records of the table ordered by key
func ListRecords(db *DB, t Table) ([]Record, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s ORDER BY key", recordColumns, t.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", t.Name)
	}

	return scanRecords(rows)
}

// ListRecordsByIndex returns the records whose indexed field equals the given value
func ListRecordsByIndex(db *DB, t Table, field, value string) ([]Record, error) {
	if !t.HasIndex(field) {
		return nil, errors.Wrapf(ErrUnknownIndex, "%s.%s", t.Name, field)
	}

	// JSON numbers extract as integers, so numeric lookups match either form.
	// Only the canonical spelling of an integer does: "007" is not 7.
	var alt interface{} = value
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && strconv.FormatInt(n, 10) == value {
		alt = n
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (?, ?) ORDER BY key", recordColumns, t.Name, jsonField(field))
	rows, err := db.Query(query, value, alt)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s by %s", t.Name, field)
	}

	return scanRecords(rows)
}

func upsertRecord(db *DB, t Table, r Record, keepPending bool) (bool, error) {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return false, errors.Wrapf(err, "encoding %s %s", t.Name, r.Key)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			pending = excluded.pending,
			original_updated_at = excluded.original_updated_at,
			synced_at = excluded.synced_at`, t.Name, recordColumns)
	if keepPending {
		query = fmt.Sprintf("%s WHERE %s.pending = false", query, t.Name)
	}

	res, err := db.Exec(query, r.Key, string(data), r.Pending, r.OriginalUpdatedAt, r.SyncedAt)
	if err != nil {
		return false, errors.Wrapf(err, "writing %s %s", t.Name, r.Key)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}

	return n > 0, nil
}

// PutRecord inserts the record or replaces the existing one with the same key
func PutRecord(db *DB, t Table, r Record) error {
	_, err := upsertRecord(db, t, r, false)
	return err
}

// RefreshRecord writes a server copy of the record unless a local edit of
// the same record is pending. It returns false if the write was skipped.
func RefreshRecord(db *DB, t Table, r Record) (bool, error) {
	return upsertRecord(db, t, r, true)
}

// DeleteRecord removes the record with the given key
func DeleteRecord(db *DB, t Table, key string) error {
	if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE key = ?", t.Name), key); err != nil {
		return errors.Wrapf(err, "deleting %s %s", t.Name, key)
	}

	return nil
}

// ClearTable removes every record of the table
func ClearTable(db *DB, t Table) error {
	if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s", t.Name)); err != nil {
		return errors.Wrapf(err, "clearing %s", t.Name)
	}

	return nil
}

// CountRecords counts the records of the table
func CountRecords(db *DB, t Table) (int, error) {
	var ret int
	if err := db.QueryRow(fmt.Sprintf("SELECT count(*) FROM %s", t.Name)).Scan(&ret); err != nil {
		return 0, errors.Wrapf(err, "counting %s", t.Name)
	}

	return ret, nil
}

// CountPendingRecords counts the records of the table carrying a local edit
func CountPendingRecords(db *DB, t Table) (int, error) {
	var ret int
	if err := db.QueryRow(fmt.Sprintf("SELECT count(*) FROM %s WHERE pending", t.Name)).Scan(&ret); err != nil {
		return 0, errors.Wrapf(err, "counting pending %s", t.Name)
	}

	return ret, nil
}
