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

package store

import (
	"database/sql"

	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/pkg/errors"
)

// ReplaceKey swaps a record stored under a temporary key for the server's
// copy, in one transaction, so that no reader observes both records or
// neither. If the temporary record no longer exists nothing is written and
// false is returned.
//
// If keepLocal is set, the fields of the temporary record other than the
// timestamp take precedence over the server's and the result stays pending. It is used when further
// local edits of the record are still queued.
func (s *Store) ReplaceKey(table, oldKey string, server Record, keepLocal bool) (Record, bool, error) {
	t, err := s.Table(table)
	if err != nil {
		return server, false, err
	}

	if _, err := database.NormalizeRecord(t, &server); err != nil {
		return server, false, errors.Wrapf(err, "replacing %s %s", table, oldKey)
	}

	var replaced bool
	err = s.db.WithTx(func(tx *database.DB) error {
		old, err := database.GetRecord(tx, t, oldKey)
		if errors.Cause(err) == sql.ErrNoRows {
			return nil
		} else if err != nil {
			return err
		}

		if err := database.DeleteRecord(tx, t, oldKey); err != nil {
			return err
		}

		if keepLocal {
			merged := server.Clone()
			for k, v := range old.Data {
				if k == t.KeyField || k == s.timestampField {
					continue
				}
				merged.Data[k] = v
			}
			merged.Pending = true
			server = merged
		}

		if err := database.PutRecord(tx, t, server); err != nil {
			return err
		}

		replaced = true
		return nil
	})
	if err != nil {
		return server, false, errors.Wrapf(err, "replacing %s %s", table, oldKey)
	}

	return server, replaced, nil
}
