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

// Package database provides the SQLite storage for the local record cache
// and the outbox of a single trust domain
package database

import (
	"database/sql"

	// sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLCommon is the minimal interface shared by a connection and a transaction
type SQLCommon interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// DB is a database handle. It wraps either a connection pool or an open
// transaction, so that the same helpers can run inside or outside of one.
type DB struct {
	Conn     SQLCommon
	Filepath string
}

// Open opens a connection to the SQLite database at the given path.
// The pool is limited to a single connection because SQLite serializes
// writers anyway, and a second connection to a shared in-memory database
// would fail with a locked table.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening database at %s", dbPath)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "connecting to database at %s", dbPath)
	}

	return &DB{Conn: conn, Filepath: dbPath}, nil
}

// Exec executes a query without returning rows
func (d *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return d.Conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (d *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.Conn.Query(query, args...)
}

// QueryRow executes a query that is expected to return at most one row
func (d *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.Conn.QueryRow(query, args...)
}

// Begin starts a transaction and returns a handle bound to it
func (d *DB) Begin() (*DB, error) {
	pool, ok := d.Conn.(*sql.DB)
	if !ok {
		return nil, errors.New("a transaction is already in progress")
	}

	tx, err := pool.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning a transaction")
	}

	return &DB{Conn: tx, Filepath: d.Filepath}, nil
}

// Commit commits the transaction
func (d *DB) Commit() error {
	tx, ok := d.Conn.(*sql.Tx)
	if !ok {
		return errors.New("not in a transaction")
	}

	return tx.Commit()
}

// Rollback aborts the transaction
func (d *DB) Rollback() error {
	tx, ok := d.Conn.(*sql.Tx)
	if !ok {
		return errors.New("not in a transaction")
	}

	return tx.Rollback()
}

// WithTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise.
func (d *DB) WithTx(fn func(tx *DB) error) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	return nil
}

// Close closes the underlying connection pool
func (d *DB) Close() error {
	pool, ok := d.Conn.(*sql.DB)
	if !ok {
		return errors.New("cannot close a transaction")
	}

	return pool.Close()
}

func (d *DB) pool() (*sql.DB, error) {
	pool, ok := d.Conn.(*sql.DB)
	if !ok {
		return nil, errors.New("operation is not allowed within a transaction")
	}

	return pool, nil
}
