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

package infra

import (
	"path/filepath"
	"testing"

	"github.com/carebook/carebook/pkg/assert"
	"github.com/carebook/carebook/pkg/cli/config"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/utils"
	"github.com/carebook/carebook/pkg/dirs"
	"github.com/pkg/errors"
)

func TestInitSystemKV(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	var originalCount int
	database.MustScan(t, "counting system configs", db.QueryRow("SELECT count(*) FROM system"), &originalCount)

	if err := initSystemKV(db, "testKey", "testVal"); err != nil {
		t.Fatal(errors.Wrap(err, "executing"))
	}

	var count int
	database.MustScan(t, "counting system configs", db.QueryRow("SELECT count(*) FROM system"), &count)
	assert.Equal(t, count, originalCount+1, "system count mismatch")

	var val string
	database.MustScan(t, "getting system value",
		db.QueryRow("SELECT value FROM system WHERE key = ?", "testKey"), &val)
	assert.Equal(t, val, "testVal", "system value mismatch")
}

func TestInitSystemKV_existing(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	database.MustExec(t, "inserting a system config", db, "INSERT INTO system (key, value) VALUES (?, ?)", "testKey", "testVal")

	if err := initSystemKV(db, "testKey", "newTestVal"); err != nil {
		t.Fatal(errors.Wrap(err, "executing"))
	}

	var val string
	database.MustScan(t, "getting system value",
		db.QueryRow("SELECT value FROM system WHERE key = ?", "testKey"), &val)
	assert.Equal(t, val, "testVal", "system value should not have been updated")
}

func setupDirs(t *testing.T) {
	tmpDir := t.TempDir()

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv(config.EnvAPIEndpoint, "")
	t.Setenv(config.EnvDomain, "")

	dirs.Reload()
	t.Cleanup(dirs.Reload)
}

func TestInit(t *testing.T) {
	setupDirs(t)

	ctx, err := Init("test-version", Options{APIEndpoint: "http://127.0.0.1:3001"})
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing"))
	}
	defer ctx.DB.Close()

	assert.Equal(t, ctx.Domain, consts.DomainStaff, "default domain mismatch")
	assert.Equal(t, ctx.RetryCeiling, config.DefaultRetryCeiling, "retry ceiling mismatch")
	assert.Equal(t, ctx.SyncInterval, config.DefaultSyncInterval, "sync interval mismatch")
	assert.Equal(t, ctx.SessionKey, "", "session key should be empty")

	ok, err := utils.FileExists(filepath.Join(dirs.AppDir(dirs.DataHome), "staff.db"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ok, true, "staff database should be created")

	var lastDrain string
	if err := database.GetSystem(ctx.DB, consts.SystemLastDrainAt, &lastDrain); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, lastDrain, "0", "last drain mismatch")
}

func TestInit_domains(t *testing.T) {
	setupDirs(t)

	staff, err := Init("test-version", Options{APIEndpoint: "http://127.0.0.1:3001"})
	if err != nil {
		t.Fatal(err)
	}
	defer staff.DB.Close()
	database.MustPutRecord(t, staff.DB, "patients", map[string]interface{}{"patient_id": "p-1"}, false)

	guardian, err := Init("test-version", Options{Domain: consts.DomainGuardian})
	if err != nil {
		t.Fatal(err)
	}
	defer guardian.DB.Close()

	assert.Equal(t, guardian.Domain, consts.DomainGuardian, "domain mismatch")

	var count int
	database.MustScan(t, "counting patients", guardian.DB.QueryRow("SELECT count(*) FROM patients"), &count)
	assert.Equal(t, count, 0, "domains should not share records")
}

func TestInit_invalidDomain(t *testing.T) {
	setupDirs(t)

	_, err := Init("test-version", Options{Domain: "admin"})
	assert.Equal(t, errors.Cause(err), config.ErrInvalid, "error mismatch")
}

func TestInit_APIEndpointChange(t *testing.T) {
	setupDirs(t)

	endpoint1 := "http://127.0.0.1:3001"
	ctx, err := Init("test-version", Options{APIEndpoint: endpoint1})
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing"))
	}
	defer ctx.DB.Close()
	assert.Equal(t, ctx.APIEndpoint, endpoint1, "should use endpoint1 API endpoint")

	cf, err := config.Read(ctx.Paths)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading config"))
	}

	endpoint2 := "http://127.0.0.1:3002"
	ctx2, err := Init("test-version", Options{APIEndpoint: endpoint2})
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing with override"))
	}
	defer ctx2.DB.Close()
	assert.Equal(t, ctx2.APIEndpoint, endpoint2, "should use endpoint2 API endpoint")

	// the config file is left alone
	cf2, err := config.Read(ctx2.Paths)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading config after override"))
	}
	assert.Equal(t, cf2.APIEndpoint, cf.APIEndpoint, "config should still have original endpoint, not endpoint2")
}
