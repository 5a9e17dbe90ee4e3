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

package validate

import (
	"strings"

	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/pkg/errors"
)

// ErrTableUnknown is an error for a table that is not cached locally
var ErrTableUnknown = errors.New("The table is unknown")

// ErrEndpointEmpty is an error for an empty endpoint
var ErrEndpointEmpty = errors.New("The endpoint is empty")

// ErrEndpointRelative is an error for an endpoint that does not start with a slash
var ErrEndpointRelative = errors.New("The endpoint must start with /")

// ErrEndpointHasSpace is an error for an endpoint that has any space
var ErrEndpointHasSpace = errors.New("The endpoint cannot contain spaces")

// ErrEndpointMultiline is an error for an endpoint that has linebreaks
var ErrEndpointMultiline = errors.New("The endpoint contains multiple lines")

// ErrEndpointMismatch is an error for an endpoint that does not address the table
var ErrEndpointMismatch = errors.New("The endpoint does not address the table")

// Table validates a table name
func Table(name string) error {
	if _, err := database.LookupTable(name); err != nil {
		return ErrTableUnknown
	}

	return nil
}

// Endpoint validates an API path used for writes
func Endpoint(endpoint string) error {
	if endpoint == "" {
		return ErrEndpointEmpty
	}

	if strings.Contains(endpoint, "\n") || strings.Contains(endpoint, "\r") {
		return ErrEndpointMultiline
	}

	if strings.ContainsAny(endpoint, " \t") {
		return ErrEndpointHasSpace
	}

	if !strings.HasPrefix(endpoint, "/") {
		return ErrEndpointRelative
	}

	return nil
}

// Write validates the table and the endpoint of a write. The endpoint must
// name the table as one of its segments.
func Write(table, endpoint string) error {
	if err := Table(table); err != nil {
		return err
	}
	if err := Endpoint(endpoint); err != nil {
		return err
	}

	path := endpoint
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == table {
			return nil
		}
	}

	return ErrEndpointMismatch
}
