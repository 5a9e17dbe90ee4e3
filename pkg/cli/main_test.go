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

package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carebook/carebook/pkg/assert"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/testutils"
	"github.com/carebook/carebook/pkg/cli/utils"
	"github.com/carebook/carebook/pkg/dirs"
	"github.com/pkg/errors"
)

var binaryName = "test-carebook"

// setupTestEnv creates a unique test directory for parallel test execution
func setupTestEnv(t *testing.T, apiEndpoint string) (string, testutils.RunCarebookCmdOptions) {
	testDir := t.TempDir()
	opts := testutils.RunCarebookCmdOptions{
		Env: []string{
			fmt.Sprintf("XDG_CONFIG_HOME=%s", testDir),
			fmt.Sprintf("XDG_DATA_HOME=%s", testDir),
			fmt.Sprintf("XDG_CACHE_HOME=%s", testDir),
			fmt.Sprintf("CAREBOOK_API_ENDPOINT=%s", apiEndpoint),
		},
	}
	return testDir, opts
}

func dbPath(testDir, domain string) string {
	return filepath.Join(testDir, dirs.AppDirName, domain+"."+consts.DBFileExt)
}

func TestMain(m *testing.M) {
	if err := exec.Command("go", "build", "-o", binaryName).Run(); err != nil {
		log.Print(errors.Wrap(err, "building a binary").Error())
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestParseFlag(t *testing.T) {
	testCases := []struct {
		args     []string
		expected string
	}{
		{args: []string{"--domain", "guardian", "status"}, expected: "guardian"},
		{args: []string{"status", "--domain=guardian"}, expected: "guardian"},
		{args: []string{"status"}, expected: ""},
		{args: []string{"status", "--domain"}, expected: ""},
		{args: []string{"create", "--", "--domain", "guardian"}, expected: ""},
	}

	for _, tc := range testCases {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			assert.Equal(t, parseFlag(tc.args, "domain"), tc.expected, "result mismatch")
		})
	}
}

func TestInit(t *testing.T) {
	api := testutils.NewAPIServer(t)
	testDir, opts := setupTestEnv(t, api.URL)

	testutils.RunCarebookCmd(t, opts, binaryName, "status")

	ok, err := utils.FileExists(filepath.Join(testDir, dirs.AppDirName, consts.ConfigFilename))
	if err != nil {
		t.Fatal(errors.Wrap(err, "checking if config exists"))
	}
	if !ok {
		t.Errorf("config file was not initialized")
	}

	db := testutils.MustOpenDatabase(t, dbPath(testDir, consts.DomainStaff))

	for _, name := range append(database.TableNames(), "system", "outbox", "sync_metadata") {
		var count int
		database.MustScan(t, "counting "+name,
			db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = ? AND name = ?", "table", name), &count)
		assert.Equal(t, count, 1, name+" table count mismatch")
	}

	var lastDrainAt string
	database.MustScan(t, "scanning last drain at",
		db.QueryRow("SELECT value FROM system WHERE key = ?", consts.SystemLastDrainAt), &lastDrainAt)
	assert.Equal(t, lastDrainAt, "0", "last drain at mismatch")
}

func TestOfflineCreateThenSync(t *testing.T) {
	api := testutils.NewAPIServer(t)
	testDir, opts := setupTestEnv(t, api.URL)

	api.SetOffline()
	testutils.RunCarebookCmd(t, opts, binaryName, "create", "patients", "/patients", "--data", `{"name": "Ada"}`)

	db := testutils.MustOpenDatabase(t, dbPath(testDir, consts.DomainStaff))

	var queued, pending int
	database.MustScan(t, "counting outbox", db.QueryRow("SELECT count(*) FROM outbox"), &queued)
	database.MustScan(t, "counting pending patients", db.QueryRow("SELECT count(*) FROM patients WHERE pending"), &pending)
	assert.Equal(t, queued, 1, "queued count mismatch")
	assert.Equal(t, pending, 1, "pending count mismatch")
	assert.Equal(t, api.Count("patients"), 0, "server count mismatch before sync")

	out := testutils.RunCarebookCmd(t, opts, binaryName, "outbox")
	assert.Equal(t, strings.Contains(out, "create /patients"), true, "outbox listing mismatch")

	api.SetOnline()
	testutils.RunCarebookCmd(t, opts, binaryName, "sync")

	database.MustScan(t, "counting outbox", db.QueryRow("SELECT count(*) FROM outbox"), &queued)
	database.MustScan(t, "counting pending patients", db.QueryRow("SELECT count(*) FROM patients WHERE pending"), &pending)
	assert.Equal(t, queued, 0, "queued count mismatch after sync")
	assert.Equal(t, pending, 0, "pending count mismatch after sync")
	assert.Equal(t, api.Count("patients"), 1, "server count mismatch after sync")

	var key string
	database.MustScan(t, "getting patient key", db.QueryRow("SELECT key FROM patients"), &key)
	assert.Equal(t, key, "patient-1", "patient key mismatch")
}

func TestGetFromCache(t *testing.T) {
	api := testutils.NewAPIServer(t)
	_, opts := setupTestEnv(t, api.URL)

	api.Seed("patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada"})

	out := testutils.RunCarebookCmd(t, opts, binaryName, "get", "/patients")
	assert.Equal(t, strings.Contains(out, `"name": "Ada"`), true, "online output mismatch")

	api.SetOffline()

	out = testutils.RunCarebookCmd(t, opts, binaryName, "get", "/patients/p-1")
	assert.Equal(t, strings.Contains(out, `"name": "Ada"`), true, "cached output mismatch")
	assert.Equal(t, strings.Contains(out, "showing cached data"), true, "cache warning mismatch")
}

func TestUpdateFromStdin(t *testing.T) {
	api := testutils.NewAPIServer(t)
	_, opts := setupTestEnv(t, api.URL)

	api.Seed("patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada"})
	testutils.RunCarebookCmd(t, opts, binaryName, "get", "/patients/p-1")

	testutils.MustWaitCarebookCmd(t, opts, testutils.UserPayload(`{"allergies": "latex"}`), binaryName, "update", "patients", "/patients/p-1")

	rec, ok := api.Record("patients", "p-1")
	assert.Equal(t, ok, true, "record not found")
	assert.Equal(t, rec["allergies"], "latex", "allergies mismatch")
	assert.Equal(t, rec["name"], "Ada", "name mismatch")
}

func TestDeleteConfirm(t *testing.T) {
	api := testutils.NewAPIServer(t)
	_, opts := setupTestEnv(t, api.URL)

	api.Seed("visits", map[string]interface{}{"visit_id": "v-1", "patient_id": "p-1"})

	testutils.MustWaitCarebookCmd(t, opts, testutils.ConfirmDelete, binaryName, "delete", "visits", "/visits/v-1")

	assert.Equal(t, api.Count("visits"), 0, "server count mismatch")
}

func TestLogoutCancel(t *testing.T) {
	api := testutils.NewAPIServer(t)
	testDir, opts := setupTestEnv(t, api.URL)

	api.SetOffline()
	testutils.RunCarebookCmd(t, opts, binaryName, "create", "patients", "/patients", "--data", `{"name": "Ada"}`)

	testutils.MustWaitCarebookCmd(t, opts, testutils.CancelLogout, binaryName, "logout")

	db := testutils.MustOpenDatabase(t, dbPath(testDir, consts.DomainStaff))

	var queued int
	database.MustScan(t, "counting outbox", db.QueryRow("SELECT count(*) FROM outbox"), &queued)
	assert.Equal(t, queued, 1, "queued count mismatch")
}

func TestLogout(t *testing.T) {
	api := testutils.NewAPIServer(t)
	testDir, opts := setupTestEnv(t, api.URL)

	api.Seed("patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada"})
	testutils.RunCarebookCmd(t, opts, binaryName, "login", "--token", "session-1")
	testutils.RunCarebookCmd(t, opts, binaryName, "get", "/patients")

	testutils.RunCarebookCmd(t, opts, binaryName, "logout")

	db := testutils.MustOpenDatabase(t, dbPath(testDir, consts.DomainStaff))

	var patients, sessions int
	database.MustScan(t, "counting patients", db.QueryRow("SELECT count(*) FROM patients"), &patients)
	database.MustScan(t, "counting sessions", db.QueryRow("SELECT count(*) FROM system WHERE key = ?", consts.SystemSessionKey), &sessions)
	assert.Equal(t, patients, 0, "patient count mismatch")
	assert.Equal(t, sessions, 0, "session count mismatch")
	assert.DeepEqual(t, api.WriteCalls(), []string{"POST /signout"}, "write calls mismatch")
}

func TestDomainFlag(t *testing.T) {
	api := testutils.NewAPIServer(t)
	testDir, opts := setupTestEnv(t, api.URL)

	api.SetOffline()
	testutils.RunCarebookCmd(t, opts, binaryName, "create", "patients", "/patients", "--domain", consts.DomainGuardian, "--data", `{"name": "Ada"}`)

	guardianDB := testutils.MustOpenDatabase(t, dbPath(testDir, consts.DomainGuardian))
	var count int
	database.MustScan(t, "counting guardian patients", guardianDB.QueryRow("SELECT count(*) FROM patients"), &count)
	assert.Equal(t, count, 1, "guardian patient count mismatch")

	ok, err := utils.FileExists(dbPath(testDir, consts.DomainStaff))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ok, false, "staff database should not exist")
}

func TestDBPathFlag(t *testing.T) {
	api := testutils.NewAPIServer(t)
	testDir, opts := setupTestEnv(t, api.URL)
	customDBPath1 := filepath.Join(testDir, "custom-test1.db")
	customDBPath2 := filepath.Join(testDir, "custom-test2.db")

	api.SetOffline()
	testutils.RunCarebookCmd(t, opts, binaryName, "--dbPath", customDBPath1, "create", "patients", "/patients", "--data", `{"name": "Ada"}`)
	testutils.RunCarebookCmd(t, opts, binaryName, "create", "vaccines", "/vaccines", "--data", `{"name": "MMR"}`, "--dbPath="+customDBPath2)

	db1 := testutils.MustOpenDatabase(t, customDBPath1)
	db2 := testutils.MustOpenDatabase(t, customDBPath2)

	var db1Patients, db1Vaccines, db2Patients, db2Vaccines int
	database.MustScan(t, "counting db1 patients", db1.QueryRow("SELECT count(*) FROM patients"), &db1Patients)
	database.MustScan(t, "counting db1 vaccines", db1.QueryRow("SELECT count(*) FROM vaccines"), &db1Vaccines)
	database.MustScan(t, "counting db2 patients", db2.QueryRow("SELECT count(*) FROM patients"), &db2Patients)
	database.MustScan(t, "counting db2 vaccines", db2.QueryRow("SELECT count(*) FROM vaccines"), &db2Vaccines)

	assert.Equal(t, db1Patients, 1, "db1 patient count mismatch")
	assert.Equal(t, db1Vaccines, 0, "db1 vaccine count mismatch")
	assert.Equal(t, db2Patients, 0, "db2 patient count mismatch")
	assert.Equal(t, db2Vaccines, 1, "db2 vaccine count mismatch")
}
