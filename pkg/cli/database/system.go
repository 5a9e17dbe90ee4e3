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
	"database/sql"
	"strconv"

	"github.com/pkg/errors"
)

// GetSystem scans the value of the system configuration with the given key
// into dest. It returns sql.ErrNoRows if the key is not set.
func GetSystem(db *DB, key string, dest interface{}) error {
	if err := db.QueryRow("SELECT value FROM system WHERE key = ?", key).Scan(dest); err != nil {
		return errors.Wrapf(err, "finding system configuration %s", key)
	}

	return nil
}

// UpsertSystem sets the value of the system configuration with the given key
func UpsertSystem(db *DB, key string, val interface{}) error {
	_, err := db.Exec(`INSERT INTO system (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, val)
	if err != nil {
		return errors.Wrapf(err, "saving system configuration %s", key)
	}

	return nil
}

// DeleteSystem removes the system configuration with the given key
func DeleteSystem(db *DB, key string) error {
	if _, err := db.Exec("DELETE FROM system WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "deleting system configuration %s", key)
	}

	return nil
}

// TouchSyncMetadata records the time at which the table was last written
// from a server response
func TouchSyncMetadata(db *DB, table string, ts int64) error {
	_, err := db.Exec(`INSERT INTO sync_metadata (table_name, last_synced_at) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET last_synced_at = excluded.last_synced_at`, table, ts)
	if err != nil {
		return errors.Wrapf(err, "updating sync metadata of %s", table)
	}

	return nil
}

// GetSyncMetadata returns the time, in unix nanoseconds, at which the table
// was last written from the server, or 0 if it never was
func GetSyncMetadata(db *DB, table string) (int64, error) {
	var ret int64

	err := db.QueryRow("SELECT last_synced_at FROM sync_metadata WHERE table_name = ?", table).Scan(&ret)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "getting sync metadata of %s", table)
	}

	return ret, nil
}

// ClaimLease takes the lease with the given key until the given time, in
// unix nanoseconds, unless a lease that is still valid at now is held. It
// reports whether the lease was taken. The check and the write are a single
// statement so that two processes sharing the database cannot both succeed.
func ClaimLease(db *DB, key string, now, until int64) (bool, error) {
	res, err := db.Exec(`INSERT INTO system (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		WHERE CAST(system.value AS integer) <= ?`, key, strconv.FormatInt(until, 10), now)
	if err != nil {
		return false, errors.Wrapf(err, "claiming lease %s", key)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}

	return n == 1, nil
}

// RenewLease moves the expiry of a held lease from held to until. It reports
// false if the lease was taken over in the meantime.
func RenewLease(db *DB, key string, held, until int64) (bool, error) {
	res, err := db.Exec("UPDATE system SET value = ? WHERE key = ? AND value = ?",
		strconv.FormatInt(until, 10), key, strconv.FormatInt(held, 10))
	if err != nil {
		return false, errors.Wrapf(err, "renewing lease %s", key)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}

	return n == 1, nil
}

// ReleaseLease gives up the lease if it is still the one expiring at held
func ReleaseLease(db *DB, key string, held int64) error {
	if _, err := db.Exec("DELETE FROM system WHERE key = ? AND value = ?", key, strconv.FormatInt(held, 10)); err != nil {
		return errors.Wrapf(err, "releasing lease %s", key)
	}

	return nil
}
