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

package appctx

import (
	"testing"

	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/outbox"
	"github.com/carebook/carebook/pkg/clock"
	"github.com/pkg/errors"
)

// InitTestCtx initializes a test context with an in-memory database, a mock
// clock and a temporary directory for all paths
func InitTestCtx(t *testing.T, apiEndpoint string) Ctx {
	tmpDir := t.TempDir()
	paths := Paths{
		Home:   tmpDir,
		Cache:  tmpDir,
		Config: tmpDir,
		Data:   tmpDir,
	}

	if err := InitDirs(paths); err != nil {
		t.Fatal(errors.Wrap(err, "creating test directories"))
	}

	return Ctx{
		Paths:          paths,
		APIEndpoint:    apiEndpoint,
		Version:        "test",
		Domain:         consts.DomainStaff,
		DB:             database.InitTestMemoryDB(t),
		Clock:          clock.NewMock(),
		RetryCeiling:   outbox.DefaultPolicy.Ceiling,
		TimestampField: consts.DefaultTimestampField,
	}
}
