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

// Package cache populates the local store from API traffic. Its Interceptor
// is installed as the transport of the API client, so every successful
// response is cached without the caller doing anything.
package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/pkg/errors"
)

// Interceptor is an http.RoundTripper that writes successful API responses
// through to the local store. Failures to cache are logged and never change
// the response returned to the caller.
type Interceptor struct {
	Transport http.RoundTripper
	Store     *store.Store
	Router    *Router
	// OnBulk, if set, is called after a list response has been cached
	OnBulk func(table string, r store.BulkResult)
}

// NewInterceptor wraps the transport
func NewInterceptor(transport http.RoundTripper, s *store.Store, r *Router) *Interceptor {
	return &Interceptor{
		Transport: transport,
		Store:     s,
		Router:    r,
	}
}

func (i *Interceptor) transport() http.RoundTripper {
	if i.Transport != nil {
		return i.Transport
	}

	return http.DefaultTransport
}

type passthroughKey struct{}

// Passthrough returns a context whose requests the Interceptor sends without
// caching the responses. Outbox replays use it: the sync engine swaps
// temporary records for the server's in a single transaction, and a cached
// response would make both visible at once.
func Passthrough(ctx context.Context) context.Context {
	return context.WithValue(ctx, passthroughKey{}, true)
}

// IsPassthrough tells if responses to requests made with the context are left
// out of the cache
func IsPassthrough(ctx context.Context) bool {
	v, _ := ctx.Value(passthroughKey{}).(bool)
	return v
}

// RoundTrip implements http.RoundTripper
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := i.transport().RoundTrip(req)
	if err != nil {
		return res, err
	}
	if IsPassthrough(req.Context()) {
		return res, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return res, nil
	}

	if err := i.capture(req, res); err != nil {
		log.Debug("cache: %s %s: %s\n", req.Method, req.URL.Path, err)
	}

	return res, nil
}

type errReader struct {
	err error
}

func (r errReader) Read(p []byte) (int, error) {
	return 0, r.err
}

// readBody reads the whole response body and puts an equivalent reader back
// in its place. A read error is replayed to the caller after the bytes that
// were read.
func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(res.Body)
	res.Body.Close()

	if err != nil {
		res.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
		return nil, errors.Wrap(err, "reading response body")
	}
	res.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

func (i *Interceptor) capture(req *http.Request, res *http.Response) error {
	if i.Store == nil || i.Router == nil {
		return nil
	}

	m, ok := i.Router.Match(req.Method, req.URL.Path)
	if !ok {
		return errors.New("no route")
	}

	switch req.Method {
	case http.MethodGet:
		return i.captureRead(m, res)
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return i.captureWrite(m, res)
	case http.MethodDelete:
		return i.captureDelete(m)
	}

	return nil
}

func (i *Interceptor) captureRead(m Match, res *http.Response) error {
	body, err := readBody(res)
	if err != nil {
		return err
	}

	env, err := Unwrap(body)
	if err != nil {
		return err
	}

	result, err := i.Store.PutBulk(m.Route.Table, env.Items)
	if err != nil {
		return errors.Wrapf(err, "caching %s", m.Route.Table)
	}

	log.Debug("cache: %d %s (%s) in %d batches, %d pending kept\n",
		result.Written, m.Route.Table, env.Shape, result.Batches, result.Skipped)
	if i.OnBulk != nil {
		i.OnBulk(m.Route.Table, result)
	}

	return nil
}

func (i *Interceptor) captureWrite(m Match, res *http.Response) error {
	body, err := readBody(res)
	if err != nil {
		return err
	}

	env, err := Unwrap(body)
	if err != nil {
		return err
	}

	data, ok := env.Single()
	if !ok {
		return errors.Errorf("expected a single record, got %s", env.Shape)
	}

	r, ok, err := i.Store.RefreshServer(m.Route.Table, data)
	if err != nil {
		return errors.Wrapf(err, "caching %s", m.Route.Table)
	}

	if ok {
		log.Debug("cache: wrote %s %s\n", m.Route.Table, r.Key)
	} else {
		log.Debug("cache: kept pending %s %s\n", m.Route.Table, r.Key)
	}

	return nil
}

func (i *Interceptor) captureDelete(m Match) error {
	key, ok := m.Key()
	if !ok {
		return errors.New("no record key in path")
	}

	if err := i.Store.Delete(m.Route.Table, key); err != nil {
		return errors.Wrapf(err, "evicting %s %s", m.Route.Table, key)
	}

	return nil
}
