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

package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/gorilla/mux"
)

// Call is a request received by the APIServer
type Call struct {
	Method string
	Path   string
	Body   map[string]interface{}
	Header http.Header
}

// String returns "METHOD path"
func (c Call) String() string {
	return fmt.Sprintf("%s %s", c.Method, c.Path)
}

// APIServer is an in-memory clinic records API. It records every call it
// receives, in order, and can simulate a lost connection or fail requests on
// demand.
type APIServer struct {
	Server *httptest.Server
	URL    string

	mu       sync.Mutex
	records  map[string]map[string]map[string]interface{}
	calls    []Call
	offline  bool
	failures map[string][]int
	seq      int
	now      time.Time
}

// NewAPIServer starts an APIServer that is closed at the end of the test
func NewAPIServer(t *testing.T) *APIServer {
	s := &APIServer{
		records:  map[string]map[string]map[string]interface{}{},
		failures: map[string][]int{},
		now:      time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC),
	}

	s.Server = httptest.NewServer(s.router())
	s.URL = s.Server.URL
	t.Cleanup(s.Server.Close)

	return s
}

func (s *APIServer) router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.middleware)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.HandleFunc("/signout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/{parent}/{parent_id}/{table}", s.listNested).Methods(http.MethodGet)
	r.HandleFunc("/{parent}/{parent_id}/{table}", s.createNested).Methods(http.MethodPost)
	r.HandleFunc("/{table}", s.list).Methods(http.MethodGet)
	r.HandleFunc("/{table}", s.create).Methods(http.MethodPost)
	r.HandleFunc("/{table}/{id}", s.get).Methods(http.MethodGet)
	r.HandleFunc("/{table}/{id}", s.update).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/{table}/{id}", s.remove).Methods(http.MethodDelete)

	return r
}

func (s *APIServer) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		offline := s.offline
		s.mu.Unlock()

		if offline {
			drop(w)
			return
		}

		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		call := Call{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
		if r.Body != nil {
			b, _ := io.ReadAll(r.Body)
			if len(b) > 0 {
				json.Unmarshal(b, &call.Body)
			}
			r.Body = io.NopCloser(bytes.NewReader(b))
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		status, fail := s.popFailure(call.String())
		s.mu.Unlock()

		if fail {
			if status == 0 {
				drop(w)
				return
			}

			http.Error(w, http.StatusText(status), status)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// drop closes the connection without a response
func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}

	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

func (s *APIServer) popFailure(key string) (int, bool) {
	q := s.failures[key]
	if len(q) == 0 {
		return 0, false
	}

	s.failures[key] = q[1:]
	return q[0], true
}

// SetOffline makes the server drop every connection until SetOnline is
// called
func (s *APIServer) SetOffline() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offline = true
}

// SetOnline makes the server answer requests again
func (s *APIServer) SetOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offline = false
}

// Fail makes the next requests matching the method and path fail with the
// given statuses, one status per request. A status of 0 drops the
// connection.
func (s *APIServer) Fail(method, path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Call{Method: method, Path: path}.String()
	s.failures[key] = append(s.failures[key], statuses...)
}

// Calls returns the calls received so far
func (s *APIServer) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]Call, len(s.calls))
	copy(ret, s.calls)

	return ret
}

// WriteCalls returns the received calls that are not reads, as "METHOD path"
func (s *APIServer) WriteCalls() []string {
	ret := []string{}
	for _, c := range s.Calls() {
		if c.Method != http.MethodGet {
			ret = append(ret, c.String())
		}
	}

	return ret
}

// ResetCalls forgets the calls received so far
func (s *APIServer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = nil
}

// tick advances the server clock. Every write gets a distinct last-modified
// time.
func (s *APIServer) tick() string {
	s.now = s.now.Add(time.Minute)
	return s.now.Format(time.RFC3339)
}

// Seed stores a record as if it had been written on the server. Its
// updated_at is set unless given.
func (s *APIServer) Seed(table string, data map[string]interface{}) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := database.LookupTable(table)
	if err != nil {
		panic(err)
	}

	rec := copyMap(data)
	if _, ok := rec["updated_at"]; !ok {
		rec["updated_at"] = s.tick()
	}

	key := database.KeyString(rec[t.KeyField])
	if key == "" {
		panic("seeded record has no key")
	}
	s.table(table)[key] = rec

	return copyMap(rec)
}

// Record returns the server's copy of a record
func (s *APIServer) Record(table, key string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[table][key]
	if !ok {
		return nil, false
	}

	return copyMap(rec), true
}

// Count returns the number of records of the table on the server
func (s *APIServer) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records[table])
}

func (s *APIServer) table(name string) map[string]map[string]interface{} {
	if _, ok := s.records[name]; !ok {
		s.records[name] = map[string]map[string]interface{}{}
	}

	return s.records[name]
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, len(m))
	for k, v := range m {
		ret[k] = v
	}

	return ret
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func lookup(w http.ResponseWriter, name string) (database.Table, bool) {
	t, err := database.LookupTable(name)
	if err != nil {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return t, false
	}

	return t, true
}

func (s *APIServer) sorted(table string, keep func(map[string]interface{}) bool) []map[string]interface{} {
	recs := s.table(table)

	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ret := []map[string]interface{}{}
	for _, k := range keys {
		if keep == nil || keep(recs[k]) {
			ret = append(ret, copyMap(recs[k]))
		}
	}

	return ret
}

func (s *APIServer) list(w http.ResponseWriter, r *http.Request) {
	t, ok := lookup(w, mux.Vars(r)["table"])
	if !ok {
		return
	}

	s.mu.Lock()
	items := s.sorted(t.Name, nil)
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]interface{}{"data": items})
}

func (s *APIServer) listNested(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	parent, ok := lookup(w, vars["parent"])
	if !ok {
		return
	}
	t, ok := lookup(w, vars["table"])
	if !ok {
		return
	}

	s.mu.Lock()
	items := s.sorted(t.Name, func(rec map[string]interface{}) bool {
		return database.KeyString(rec[parent.KeyField]) == vars["parent_id"]
	})
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *APIServer) get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, ok := lookup(w, vars["table"])
	if !ok {
		return
	}

	s.mu.Lock()
	rec, ok := s.table(t.Name)[vars["id"]]
	if ok {
		rec = copyMap(rec)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"data": rec})
}

func (s *APIServer) insert(t database.Table, body map[string]interface{}) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	key := fmt.Sprintf("%s-%d", strings.TrimSuffix(t.Name, "s"), s.seq)

	rec := copyMap(body)
	rec[t.KeyField] = key
	rec["updated_at"] = s.tick()
	s.table(t.Name)[key] = rec

	return copyMap(rec)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return nil, false
	}
	if body == nil {
		body = map[string]interface{}{}
	}

	return body, true
}

func (s *APIServer) create(w http.ResponseWriter, r *http.Request) {
	t, ok := lookup(w, mux.Vars(r)["table"])
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"data": s.insert(t, body)})
}

func (s *APIServer) createNested(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	parent, ok := lookup(w, vars["parent"])
	if !ok {
		return
	}
	t, ok := lookup(w, vars["table"])
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	body[parent.KeyField] = vars["parent_id"]

	respondJSON(w, http.StatusCreated, map[string]interface{}{"data": s.insert(t, body)})
}

// modifiedSince tells if the record changed after the If-Unmodified-Since
// time of the request
func modifiedSince(r *http.Request, rec map[string]interface{}) bool {
	h := r.Header.Get("If-Unmodified-Since")
	if h == "" {
		return false
	}

	since, err := http.ParseTime(h)
	if err != nil {
		return false
	}

	ts, err := database.ParseTimestamp(rec["updated_at"])
	if err != nil {
		return false
	}

	return time.Unix(0, ts).Truncate(time.Second).After(since)
}

func (s *APIServer) update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, ok := lookup(w, vars["table"])
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	rec, found := s.table(t.Name)[vars["id"]]
	if !found {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if modifiedSince(r, rec) {
		s.mu.Unlock()
		http.Error(w, "precondition failed", http.StatusPreconditionFailed)
		return
	}

	for k, v := range body {
		if k == t.KeyField || k == "updated_at" {
			continue
		}
		rec[k] = v
	}
	rec["updated_at"] = s.tick()
	ret := copyMap(rec)
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]interface{}{"data": ret})
}

func (s *APIServer) remove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, ok := lookup(w, vars["table"])
	if !ok {
		return
	}

	s.mu.Lock()
	_, found := s.table(t.Name)[vars["id"]]
	delete(s.table(t.Name), vars["id"])
	s.mu.Unlock()

	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
