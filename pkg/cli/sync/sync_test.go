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

package sync

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/carebook/carebook/pkg/assert"
	"github.com/carebook/carebook/pkg/cli/cache"
	"github.com/carebook/carebook/pkg/cli/client"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/outbox"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/carebook/carebook/pkg/cli/testutils"
	"github.com/carebook/carebook/pkg/clock"
	"github.com/pkg/errors"
)

type testEnv struct {
	api     *testutils.APIServer
	clock   *clock.Mock
	store   *store.Store
	outbox  *outbox.Outbox
	engine  *Engine
	notices *notify.Recorder
	observe *observer
}

// observer calls fn with every request once the cache interceptor has handled
// its response, before the engine sees it
type observer struct {
	next http.RoundTripper
	fn   func(req *http.Request)
}

func (o *observer) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := o.next.RoundTrip(req)
	if err == nil && o.fn != nil {
		o.fn(req)
	}

	return res, err
}

// setup wires the engine the way the offline service does, with the cache
// interceptor in front of every request
func setup(t *testing.T) testEnv {
	api := testutils.NewAPIServer(t)
	c := clock.NewMock()
	s := store.New(database.InitTestMemoryDB(t), c)
	o := outbox.New(s, c)
	rec := &notify.Recorder{}

	router, err := cache.NewDefaultRouter(api.URL)
	if err != nil {
		t.Fatal(err)
	}
	obs := &observer{next: cache.NewInterceptor(http.DefaultTransport, s, router)}
	cl := client.New(api.URL, "test", &http.Client{Transport: obs})

	return testEnv{
		api:     api,
		clock:   c,
		store:   s,
		outbox:  o,
		engine:  New(cl, s, o, rec, c, outbox.DefaultPolicy),
		notices: rec,
		observe: obs,
	}
}

func (e testEnv) cache(t *testing.T, table string, data map[string]interface{}) {
	rec := e.api.Seed(table, data)
	if _, err := e.store.PutServer(table, rec); err != nil {
		t.Fatal(err)
	}
}

func (e testEnv) enqueue(t *testing.T, kind outbox.Kind, table, endpoint string, payload map[string]interface{}) outbox.Operation {
	op, err := e.outbox.Enqueue(kind, table, endpoint, payload)
	if err != nil {
		t.Fatal(err)
	}

	return op
}

func (e testEnv) drain(t *testing.T) Report {
	report, err := e.engine.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	return report
}

func (e testEnv) outboxCount(t *testing.T) int {
	n, err := e.outbox.Count()
	if err != nil {
		t.Fatal(err)
	}

	return n
}

func TestDrain_fifo(t *testing.T) {
	e := setup(t)
	e.cache(t, "vaccines", map[string]interface{}{"vaccine_id": "mmr", "name": "MMR"})
	e.cache(t, "visits", map[string]interface{}{"visit_id": "v-1", "reason": "checkup"})

	e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	e.enqueue(t, outbox.KindUpdate, "vaccines", "/vaccines/mmr", map[string]interface{}{"name": "MMR II"})
	e.enqueue(t, outbox.KindDelete, "visits", "/visits/v-1", nil)

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 3}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{
		"POST /patients",
		"PATCH /vaccines/mmr",
		"DELETE /visits/v-1",
	}, "write calls mismatch")
	assert.Equal(t, e.outboxCount(t), 0, "outbox should be empty")
	assert.Equal(t, e.api.Count("visits"), 0, "visit should be deleted on the server")
}

// An edit made offline is sent exactly once when the connection returns.
func TestDrain_offlineEdit(t *testing.T) {
	e := setup(t)
	e.cache(t, "patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada", "allergies": "none"})

	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/p-1", map[string]interface{}{"allergies": "penicillin"})

	r, _ := e.store.Get("patients", "p-1")
	assert.Equal(t, r.Data["allergies"], "penicillin", "edit should be visible before sync")
	assert.Equal(t, r.Pending, true, "record should be pending")

	report := e.drain(t)
	assert.Equal(t, report.Succeeded, 1, "succeeded mismatch")

	// a second pass has nothing left to send
	e.drain(t)

	assert.DeepEqual(t, e.api.WriteCalls(), []string{"PATCH /patients/p-1"}, "write calls mismatch")

	server, _ := e.api.Record("patients", "p-1")
	assert.Equal(t, server["allergies"], "penicillin", "server copy mismatch")

	r, _ = e.store.Get("patients", "p-1")
	assert.Equal(t, r.Pending, false, "record should be confirmed")
	assert.Equal(t, r.Data["updated_at"], server["updated_at"], "cache should hold the server timestamp")
	assert.Equal(t, len(e.notices.Notices()), 0, "no notice expected")
}

// Two devices edit the same record; the one that syncs last loses its edit.
func TestDrain_staleUpdate(t *testing.T) {
	e := setup(t)
	e.cache(t, "patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada", "allergies": "none"})

	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/p-1", map[string]interface{}{"allergies": "penicillin"})
	e.api.Seed("patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada", "allergies": "latex"})

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Rejected: 1}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{}, "no write should be sent")
	assert.Equal(t, e.outboxCount(t), 0, "outbox should be empty")

	r, _ := e.store.Get("patients", "p-1")
	assert.Equal(t, r.Data["allergies"], "latex", "cache should hold the server copy")
	assert.Equal(t, r.Pending, false, "record should not be pending")

	notices := e.notices.Notices()
	assert.Equal(t, len(notices), 1, "notice count mismatch")
	assert.Equal(t, notices[0].Kind, notify.KindConflict, "notice kind mismatch")
}

func TestDrain_consecutiveEdits(t *testing.T) {
	e := setup(t)
	e.cache(t, "patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada", "allergies": "none"})

	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/p-1", map[string]interface{}{"name": "Ada L."})
	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/p-1", map[string]interface{}{"allergies": "penicillin"})

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 2}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{
		"PATCH /patients/p-1",
		"PATCH /patients/p-1",
	}, "write calls mismatch")
	assert.Equal(t, len(e.notices.Notices()), 0, "own edits should not conflict")

	r, _ := e.store.Get("patients", "p-1")
	assert.Equal(t, r.Data["name"], "Ada L.", "name mismatch")
	assert.Equal(t, r.Data["allergies"], "penicillin", "allergies mismatch")
	assert.Equal(t, r.Pending, false, "record should be confirmed")
}

// A record created offline is visible under a temporary key, and under the
// server's key alone once synced.
func TestDrain_createReconciles(t *testing.T) {
	e := setup(t)

	op := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	assert.Equal(t, op.IsTemporary(), true, "key should be temporary")

	tmp, ok := e.store.Get("patients", op.RecordKey)
	assert.Equal(t, ok, true, "temporary record should be visible")
	assert.Equal(t, tmp.Data["name"], "Ada", "temporary record mismatch")

	e.drain(t)

	_, ok = e.store.Get("patients", op.RecordKey)
	assert.Equal(t, ok, false, "temporary record should be gone")

	r, ok := e.store.Get("patients", "patient-1")
	assert.Equal(t, ok, true, "server record should be cached")
	assert.Equal(t, r.Data["name"], "Ada", "record mismatch")
	assert.Equal(t, r.Pending, false, "record should be confirmed")

	n, err := e.store.Count("patients")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, n, 1, "exactly one record should be cached")
}

// The confirmed record must never be cached under both keys, not even between
// the server response and the key swap.
func TestDrain_createNeverCachedTwice(t *testing.T) {
	e := setup(t)

	op := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})

	var seen bool
	var tmpCached, serverCached bool
	var count int
	e.observe.fn = func(req *http.Request) {
		if req.Method != http.MethodPost || req.URL.Path != "/patients" {
			return
		}

		seen = true
		_, tmpCached = e.store.Get("patients", op.RecordKey)
		_, serverCached = e.store.Get("patients", "patient-1")
		count, _ = e.store.Count("patients")
	}

	report := e.drain(t)
	assert.DeepEqual(t, report, Report{Succeeded: 1}, "report mismatch")

	assert.Equal(t, seen, true, "create should have been sent")
	assert.Equal(t, tmpCached, true, "temporary record should still be cached after the response")
	assert.Equal(t, serverCached, false, "server record should not be cached before the swap")
	assert.Equal(t, count, 1, "one record should be cached after the response")

	_, ok := e.store.Get("patients", op.RecordKey)
	assert.Equal(t, ok, false, "temporary record should be gone")
	_, ok = e.store.Get("patients", "patient-1")
	assert.Equal(t, ok, true, "server record should be cached")

	n, err := e.store.Count("patients")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, n, 1, "exactly one record should be cached")
}

func TestDrain_createWithDependents(t *testing.T) {
	e := setup(t)

	p := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	e.enqueue(t, outbox.KindCreate, "visits", "/patients/"+p.RecordKey+"/visits", map[string]interface{}{"reason": "fever"})
	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/"+p.RecordKey, map[string]interface{}{"name": "Ada L."})

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 3}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{
		"POST /patients",
		"POST /patients/patient-1/visits",
		"PATCH /patients/patient-1",
	}, "write calls mismatch")
	assert.Equal(t, len(e.notices.Notices()), 0, "no notice expected")

	visit, ok := e.api.Record("visits", "visit-2")
	assert.Equal(t, ok, true, "visit should exist on the server")
	assert.Equal(t, visit["patient_id"], "patient-1", "visit should reference the server key")

	patient, _ := e.store.Get("patients", "patient-1")
	assert.Equal(t, patient.Data["name"], "Ada L.", "patient mismatch")
	assert.Equal(t, patient.Pending, false, "patient should be confirmed")

	for _, table := range []string{"patients", "visits"} {
		for _, r := range e.store.GetAll(table) {
			if outbox.IsTemporaryKey(r.Key) {
				t.Errorf("temporary %s %s left in the cache", table, r.Key)
			}
		}
	}
}

func TestDrain_createThenDelete(t *testing.T) {
	e := setup(t)

	p := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	e.enqueue(t, outbox.KindDelete, "patients", "/patients/"+p.RecordKey, nil)

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 2}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{
		"POST /patients",
		"DELETE /patients/patient-1",
	}, "write calls mismatch")
	assert.Equal(t, e.api.Count("patients"), 0, "patient should be deleted on the server")

	n, err := e.store.Count("patients")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, n, 0, "nothing should be cached")
}

// A record created and then deleted offline stays deleted locally while its
// delete waits for a retry.
func TestDrain_createThenDeleteDeferred(t *testing.T) {
	e := setup(t)
	e.api.Fail(http.MethodDelete, "/patients/patient-1", 503)

	p := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	e.enqueue(t, outbox.KindDelete, "patients", "/patients/"+p.RecordKey, nil)

	n, err := e.store.Count("patients")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, n, 0, "record should be gone before sync")

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 1, Deferred: 1}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{
		"POST /patients",
		"DELETE /patients/patient-1",
	}, "write calls mismatch")
	assert.Equal(t, e.outboxCount(t), 1, "delete should stay queued")

	_, ok := e.store.Get("patients", "patient-1")
	assert.Equal(t, ok, false, "server record should not be cached")
	_, ok = e.store.Get("patients", p.RecordKey)
	assert.Equal(t, ok, false, "temporary record should not come back")

	n, err = e.store.Count("patients")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, n, 0, "nothing should be cached")

	e.clock.Advance(time.Hour)
	report = e.drain(t)
	assert.DeepEqual(t, report, Report{Succeeded: 1}, "report mismatch after the retry")
	assert.Equal(t, e.api.Count("patients"), 0, "patient should be deleted on the server")
}

func TestDrain_retryCeiling(t *testing.T) {
	e := setup(t)
	e.api.Fail(http.MethodPost, "/patients", 503, 503, 503, 503)

	op := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})

	report := e.drain(t)
	assert.DeepEqual(t, report, Report{Deferred: 1}, "report mismatch after the first attempt")

	queued, err := e.outbox.Get(op.ID)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, queued.RetryCount, 1, "retry count mismatch")
	assert.Equal(t, queued.Status, outbox.StatusFailed, "status mismatch")
	assert.Equal(t, queued.NextAttemptAt, e.clock.Now().Add(time.Second).UnixNano(), "next attempt mismatch")

	// not due yet
	e.drain(t)
	assert.Equal(t, len(e.api.WriteCalls()), 1, "no attempt expected before the backoff elapses")

	e.clock.Advance(time.Second)
	e.drain(t)
	e.clock.Advance(2 * time.Second)
	e.drain(t)
	e.clock.Advance(4 * time.Second)
	report = e.drain(t)

	assert.DeepEqual(t, report, Report{Dropped: 1}, "report mismatch after the last attempt")
	assert.Equal(t, len(e.api.WriteCalls()), 4, "attempt count mismatch")
	assert.Equal(t, e.outboxCount(t), 0, "outbox should be empty")

	_, ok := e.store.Get("patients", op.RecordKey)
	assert.Equal(t, ok, false, "temporary record should be removed")

	notices := e.notices.Notices()
	assert.Equal(t, len(notices), 1, "notice count mismatch")
	assert.Equal(t, notices[0].Kind, notify.KindGaveUp, "notice kind mismatch")

	e.clock.Advance(time.Hour)
	e.drain(t)
	assert.Equal(t, len(e.api.WriteCalls()), 4, "dropped operation should not be retried")
}

// A transient failure holds back every later operation.
func TestDrain_failureKeepsOrder(t *testing.T) {
	e := setup(t)
	e.cache(t, "visits", map[string]interface{}{"visit_id": "v-1", "reason": "checkup"})
	e.api.Fail(http.MethodPost, "/patients", 500)

	e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	e.enqueue(t, outbox.KindDelete, "visits", "/visits/v-1", nil)

	report := e.drain(t)
	assert.DeepEqual(t, report, Report{Deferred: 2}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{"POST /patients"}, "later operations should wait")

	e.clock.Advance(time.Second)
	report = e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 2}, "report mismatch after the retry")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{
		"POST /patients",
		"POST /patients",
		"DELETE /visits/v-1",
	}, "write calls mismatch")
}

func TestDrain_networkFailure(t *testing.T) {
	e := setup(t)
	e.cache(t, "patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada"})
	op := e.enqueue(t, outbox.KindUpdate, "patients", "/patients/p-1", map[string]interface{}{"name": "Ada L."})

	e.api.SetOffline()
	report := e.drain(t)
	assert.DeepEqual(t, report, Report{Deferred: 1}, "report mismatch")

	queued, err := e.outbox.Get(op.ID)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, queued.RetryCount, 1, "retry count mismatch")
	assert.NotEqual(t, queued.LastError, "", "error should be recorded")

	r, _ := e.store.Get("patients", "p-1")
	assert.Equal(t, r.Data["name"], "Ada L.", "local edit should be kept")

	e.api.SetOnline()
	e.clock.Advance(time.Second)
	report = e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 1}, "report mismatch after reconnecting")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{"PATCH /patients/p-1"}, "write calls mismatch")
}

func TestDrain_permanentFailure(t *testing.T) {
	e := setup(t)
	e.api.Fail(http.MethodPost, "/visits", http.StatusUnprocessableEntity)

	visit := e.enqueue(t, outbox.KindCreate, "visits", "/visits", map[string]interface{}{"reason": ""})
	e.enqueue(t, outbox.KindCreate, "vaccines", "/vaccines", map[string]interface{}{"name": "MMR"})

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 1, Dropped: 1}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{"POST /visits", "POST /vaccines"}, "write calls mismatch")

	_, ok := e.store.Get("visits", visit.RecordKey)
	assert.Equal(t, ok, false, "rejected record should be removed")

	notices := e.notices.Notices()
	assert.Equal(t, len(notices), 1, "notice count mismatch")
	assert.Equal(t, notices[0].Kind, notify.KindRejected, "notice kind mismatch")
	assert.Equal(t, notices[0].Key, visit.RecordKey, "notice key mismatch")
}

func TestDrain_droppedCreateCascades(t *testing.T) {
	e := setup(t)
	e.api.Fail(http.MethodPost, "/patients", http.StatusUnprocessableEntity)

	p := e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})
	v := e.enqueue(t, outbox.KindCreate, "visits", "/patients/"+p.RecordKey+"/visits", map[string]interface{}{"reason": "fever"})
	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/"+p.RecordKey, map[string]interface{}{"name": "Ada L."})

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Dropped: 1}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{"POST /patients"}, "write calls mismatch")
	assert.Equal(t, e.outboxCount(t), 0, "dependent operations should be removed")
	assert.Equal(t, len(e.notices.Notices()), 3, "every removed operation should be reported")

	_, ok := e.store.Get("visits", v.RecordKey)
	assert.Equal(t, ok, false, "dependent record should be removed")
}

func TestDrain_rejectedUpdateRestores(t *testing.T) {
	e := setup(t)
	e.cache(t, "patients", map[string]interface{}{"patient_id": "p-1", "name": "Ada"})
	e.api.Fail(http.MethodPatch, "/patients/p-1", http.StatusUnprocessableEntity)

	e.enqueue(t, outbox.KindUpdate, "patients", "/patients/p-1", map[string]interface{}{"name": ""})

	report := e.drain(t)
	assert.DeepEqual(t, report, Report{Dropped: 1}, "report mismatch")

	r, _ := e.store.Get("patients", "p-1")
	assert.Equal(t, r.Data["name"], "Ada", "server copy should be restored")
	assert.Equal(t, r.Pending, false, "record should not be pending")
}

func TestDrain_deleteMissing(t *testing.T) {
	e := setup(t)

	e.enqueue(t, outbox.KindDelete, "visits", "/visits/v-404", nil)

	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Succeeded: 1}, "report mismatch")
	assert.Equal(t, e.outboxCount(t), 0, "outbox should be empty")
	assert.Equal(t, len(e.notices.Notices()), 0, "no notice expected")
}

func TestDrain_alreadyRunning(t *testing.T) {
	e := setup(t)
	e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})

	e.engine.running.Store(true)
	report := e.drain(t)

	assert.DeepEqual(t, report, Report{Skipped: true}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{}, "nothing should be sent")
	assert.Equal(t, e.outboxCount(t), 1, "operation should stay queued")

	e.engine.running.Store(false)
	report = e.drain(t)
	assert.DeepEqual(t, report, Report{Succeeded: 1}, "report mismatch after the other pass")
	assert.Equal(t, e.engine.Running(), false, "engine should not be running")
}

func TestDrain_leaseHeldByAnotherProcess(t *testing.T) {
	e := setup(t)
	e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})

	now := e.clock.Now()
	ok, err := database.ClaimLease(e.store.DB(), consts.SystemDrainLease, now.UnixNano(), now.Add(time.Minute).UnixNano())
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, ok, true, "lease should be claimed")

	report := e.drain(t)
	assert.DeepEqual(t, report, Report{Skipped: true}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{}, "nothing should be sent")
	assert.Equal(t, e.outboxCount(t), 1, "operation should stay queued")

	// the other process died without releasing its lease
	e.clock.Advance(2 * time.Minute)
	report = e.drain(t)
	assert.DeepEqual(t, report, Report{Succeeded: 1}, "report mismatch after the lease expired")
}

func TestDrain_releasesLease(t *testing.T) {
	e := setup(t)
	e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})

	var held bool
	e.observe.fn = func(req *http.Request) {
		var v string
		held = database.GetSystem(e.store.DB(), consts.SystemDrainLease, &v) == nil
	}

	e.drain(t)
	assert.Equal(t, held, true, "lease should be held while draining")

	var v string
	err := database.GetSystem(e.store.DB(), consts.SystemDrainLease, &v)
	assert.Equal(t, errors.Cause(err), sql.ErrNoRows, "lease should be released")
}

func TestDrain_cancelled(t *testing.T) {
	e := setup(t)
	e.enqueue(t, outbox.KindCreate, "patients", "/patients", map[string]interface{}{"name": "Ada"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.engine.Drain(ctx)
	assert.Equal(t, err, context.Canceled, "error mismatch")
	assert.DeepEqual(t, report, Report{Deferred: 1}, "report mismatch")
	assert.DeepEqual(t, e.api.WriteCalls(), []string{}, "nothing should be sent")
}

func TestDrain_recordsLastDrain(t *testing.T) {
	e := setup(t)
	e.drain(t)

	var v string
	if err := database.GetSystem(e.store.DB(), consts.SystemLastDrainAt, &v); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, v, fmt.Sprintf("%d", e.clock.Now().UnixNano()), "last drain mismatch")
}
