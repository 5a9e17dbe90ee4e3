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
	"github.com/pkg/errors"
)

var (
	// ErrUnknownTable is an error for a table that is not part of the schema
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownIndex is an error for a lookup on a field that is not indexed
	ErrUnknownIndex = errors.New("unknown index")
)

// Table describes a record table mirroring one type of server resource
type Table struct {
	Name string
	// KeyField is the canonical primary key field of the resource
	KeyField string
	// Indexes are the fields that can be looked up with GetByIndex
	Indexes []string
}

// HasIndex returns true if the given field is indexed on the table
func (t Table) HasIndex(field string) bool {
	for _, idx := range t.Indexes {
		if idx == field {
			return true
		}
	}

	return false
}

// Record tables of the clinic schema. Both trust domains share the schema
// but live in separate database files.
var Tables = []Table{
	{Name: "patients", KeyField: "patient_id", Indexes: []string{"guardian_id"}},
	{Name: "guardians", KeyField: "guardian_id"},
	{Name: "visits", KeyField: "visit_id", Indexes: []string{"patient_id", "visit_date"}},
	{Name: "vaccines", KeyField: "vaccine_id", Indexes: []string{"lot_number"}},
	{Name: "vaccinations", KeyField: "vaccination_id", Indexes: []string{"patient_id", "vaccine_id"}},
}

// LookupTable returns the definition of the table with the given name
func LookupTable(name string) (Table, error) {
	for _, t := range Tables {
		if t.Name == name {
			return t, nil
		}
	}

	return Table{}, errors.Wrapf(ErrUnknownTable, "'%s'", name)
}

// TableNames returns the names of all record tables
func TableNames() []string {
	ret := make([]string, 0, len(Tables))
	for _, t := range Tables {
		ret = append(ret, t.Name)
	}

	return ret
}
