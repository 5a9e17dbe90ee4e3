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

// Package consts provides definitions of constants
package consts

var (
	// DBFileExt is the extension of the per-domain SQLite database files
	DBFileExt = "db"
	// ConfigFilename is the name of the config file
	ConfigFilename = "carebookrc"
	// EnvFilename is the name of the optional dotenv file next to the config file
	EnvFilename = ".env"

	// DomainStaff is the trust domain for clinic staff data
	DomainStaff = "staff"
	// DomainGuardian is the trust domain for guardian (parent) data
	DomainGuardian = "guardian"

	// SystemSessionKey is the session key
	SystemSessionKey = "session_token"
	// SystemSessionKeyExpiry is the timestamp at which the session key will expire
	SystemSessionKeyExpiry = "session_token_expiry"
	// SystemLastDrainAt is the timestamp of the last completed outbox drain
	SystemLastDrainAt = "last_drain_at"
	// SystemDrainLease is the expiry of the lease held by the process draining the outbox
	SystemDrainLease = "drain_lease"

	// TempKeyPrefix marks a key synthesized for a record created while offline
	TempKeyPrefix = "tmp_"
	// HashKeyPrefix marks a key synthesized from the content of a record
	HashKeyPrefix = "hash_"

	// DefaultTimestampField is the server field carrying the last-modified time
	DefaultTimestampField = "updated_at"
)

// Domains lists the supported trust domains
var Domains = []string{DomainStaff, DomainGuardian}
