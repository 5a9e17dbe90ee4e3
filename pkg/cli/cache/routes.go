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

package cache

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Route maps request paths to the table caching their resources
type Route struct {
	// Pattern is a gorilla/mux path template. The {id} variable, if present,
	// names a single resource.
	Pattern string
	Table   string
	// KeyField is the primary key field of the table. It defaults to the
	// table's own key field.
	KeyField string
	// Index is a path variable that is also an indexed field of the table,
	// used to answer nested collection reads from the cache.
	Index string
}

// DefaultRoutes are the routes of the clinic records API. Nested routes come
// first because the first matching route wins.
var DefaultRoutes = []Route{
	{Pattern: "/guardians/{guardian_id}/patients", Table: "patients", Index: "guardian_id"},
	{Pattern: "/patients/{patient_id}/visits", Table: "visits", Index: "patient_id"},
	{Pattern: "/patients/{patient_id}/vaccinations", Table: "vaccinations", Index: "patient_id"},
	{Pattern: "/vaccines/{vaccine_id}/vaccinations", Table: "vaccinations", Index: "vaccine_id"},
	{Pattern: "/patients/{id}", Table: "patients"},
	{Pattern: "/patients", Table: "patients"},
	{Pattern: "/guardians/{id}", Table: "guardians"},
	{Pattern: "/guardians", Table: "guardians"},
	{Pattern: "/visits/{id}", Table: "visits"},
	{Pattern: "/visits", Table: "visits"},
	{Pattern: "/vaccines/{id}", Table: "vaccines"},
	{Pattern: "/vaccines", Table: "vaccines"},
	{Pattern: "/vaccinations/{id}", Table: "vaccinations"},
	{Pattern: "/vaccinations", Table: "vaccinations"},
}

// Match is the result of routing a request path
type Match struct {
	Route Route
	Vars  map[string]string
}

// Key returns the key of the single resource named by the path, if any
func (m Match) Key() (string, bool) {
	key, ok := m.Vars["id"]
	return key, ok && key != ""
}

// IndexValue returns the indexed field and its value for a nested collection
func (m Match) IndexValue() (string, string, bool) {
	if m.Route.Index == "" {
		return "", "", false
	}

	val, ok := m.Vars[m.Route.Index]
	return m.Route.Index, val, ok && val != ""
}

// Router evaluates routes top to bottom
type Router struct {
	mux      *mux.Router
	routes   []Route
	basePath string
}

// NewRouter builds a router for the routes. basePath is the path of the API
// endpoint and is stripped from request paths before matching.
func NewRouter(basePath string, routes []Route) (*Router, error) {
	r := &Router{
		mux:      mux.NewRouter(),
		routes:   make([]Route, 0, len(routes)),
		basePath: strings.TrimRight(basePath, "/"),
	}

	for i, route := range routes {
		t, err := database.LookupTable(route.Table)
		if err != nil {
			return nil, errors.Wrapf(err, "route %s", route.Pattern)
		}
		if route.KeyField == "" {
			route.KeyField = t.KeyField
		}
		if route.Index != "" && !t.HasIndex(route.Index) {
			return nil, errors.Wrapf(database.ErrUnknownIndex, "route %s: %s.%s", route.Pattern, t.Name, route.Index)
		}

		mr := r.mux.Path(route.Pattern).Name(strconv.Itoa(i))
		if err := mr.GetError(); err != nil {
			return nil, errors.Wrapf(err, "route %s", route.Pattern)
		}

		r.routes = append(r.routes, route)
	}

	return r, nil
}

// NewDefaultRouter builds a router with DefaultRoutes
func NewDefaultRouter(endpoint string) (*Router, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}

	return NewRouter(u.Path, DefaultRoutes)
}

// Match returns the first route matching the path
func (r *Router) Match(method, path string) (Match, bool) {
	p := path
	if i := strings.IndexByte(p, '?'); i != -1 {
		p = p[:i]
	}
	if r.basePath != "" && (p == r.basePath || strings.HasPrefix(p, r.basePath+"/")) {
		p = strings.TrimPrefix(p, r.basePath)
	}
	if p == "" {
		p = "/"
	}

	req := &http.Request{Method: method, URL: &url.URL{Path: p}, Header: http.Header{}}

	var rm mux.RouteMatch
	if !r.mux.Match(req, &rm) || rm.Route == nil {
		return Match{}, false
	}

	idx, err := strconv.Atoi(rm.Route.GetName())
	if err != nil || idx >= len(r.routes) {
		return Match{}, false
	}

	return Match{Route: r.routes[idx], Vars: rm.Vars}, true
}
