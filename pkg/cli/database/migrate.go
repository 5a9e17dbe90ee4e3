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
	"fmt"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

// MigrationTableName is the name of the table that keeps track of migrations
const MigrationTableName = "migrations"

func recordTableUp(t Table) []string {
	ret := []string{
		fmt.Sprintf(`CREATE TABLE %s
		(
			key text PRIMARY KEY,
			data text NOT NULL,
			pending bool NOT NULL DEFAULT false,
			original_updated_at integer NOT NULL DEFAULT 0,
			synced_at integer NOT NULL DEFAULT 0
		)`, t.Name),
		fmt.Sprintf("CREATE INDEX idx_%s_pending ON %s(pending)", t.Name, t.Name),
	}

	for _, field := range t.Indexes {
		ret = append(ret, fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s(%s)", t.Name, field, t.Name, jsonField(field)))
	}

	return ret
}

func newMigrationSource() *migrate.MemoryMigrationSource {
	var recordsUp, recordsDown []string
	for _, t := range Tables {
		recordsUp = append(recordsUp, recordTableUp(t)...)
		recordsDown = append(recordsDown, fmt.Sprintf("DROP TABLE %s", t.Name))
	}

	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1-system",
				Up: []string{
					`CREATE TABLE system
					(
						key text PRIMARY KEY,
						value text NOT NULL
					)`,
					`CREATE TABLE sync_metadata
					(
						table_name text PRIMARY KEY,
						last_synced_at integer NOT NULL
					)`,
				},
				Down: []string{"DROP TABLE sync_metadata", "DROP TABLE system"},
			},
			{
				Id:   "2-records",
				Up:   recordsUp,
				Down: recordsDown,
			},
			{
				Id: "3-outbox",
				Up: []string{
					`CREATE TABLE outbox
					(
						id integer PRIMARY KEY AUTOINCREMENT,
						kind text NOT NULL,
						table_name text NOT NULL,
						endpoint text NOT NULL,
						record_key text NOT NULL,
						payload text NOT NULL,
						original_updated_at integer NOT NULL DEFAULT 0,
						created_at integer NOT NULL,
						retry_count integer NOT NULL DEFAULT 0,
						status text NOT NULL DEFAULT 'pending',
						next_attempt_at integer NOT NULL DEFAULT 0,
						last_error text NOT NULL DEFAULT ''
					)`,
					"CREATE INDEX idx_outbox_target ON outbox(table_name, record_key)",
				},
				Down: []string{"DROP TABLE outbox"},
			},
		},
	}
}

// Migrate brings the schema of the given database up to date and returns
// the number of migrations applied
func Migrate(db *DB) (int, error) {
	pool, err := db.pool()
	if err != nil {
		return 0, err
	}

	ms := migrate.MigrationSet{TableName: MigrationTableName}
	n, err := ms.Exec(pool, "sqlite3", newMigrationSource(), migrate.Up)
	if err != nil {
		return n, errors.Wrap(err, "running migrations")
	}

	return n, nil
}

// Wipe deletes every row of every table in the database, leaving the schema
// in place. It is used at the end of a session to bound the exposure of
// cached sensitive data.
func Wipe(db *DB) error {
	tables := append(TableNames(), "outbox", "sync_metadata", "system")

	return db.WithTx(func(tx *DB) error {
		for _, name := range tables {
			if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", name)); err != nil {
				return errors.Wrapf(err, "clearing %s", name)
			}
		}

		return nil
	})
}
