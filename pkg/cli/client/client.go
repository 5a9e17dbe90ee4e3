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

// Package client provides interfaces for interacting with the clinic records
// API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/carebook/carebook/pkg/cli/cache"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrContentTypeMismatch is an error for a response that is not JSON
var ErrContentTypeMismatch = errors.New("content type mismatch")

// ErrNoRecord is returned when a response does not carry a single record
var ErrNoRecord = errors.New("response does not contain a record")

var contentTypeApplicationJSON = "application/json"

const (
	// clientRateLimitPerSecond is the max requests per second the client will make
	clientRateLimitPerSecond = 50
	// clientRateLimitBurst is the burst capacity for rate limiting
	clientRateLimitBurst = 100
	// DefaultTimeout bounds every request
	DefaultTimeout = 30 * time.Second
)

// rateLimitedTransport wraps an http.RoundTripper with rate limiting
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Wait for rate limiter to allow the request
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewRateLimitedTransport wraps the transport with the client's rate limit
func NewRateLimitedTransport(transport http.RoundTripper) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	// Calculate interval from rate: 1 second / requests per second
	interval := time.Second / time.Duration(clientRateLimitPerSecond)

	return &rateLimitedTransport{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Every(interval), clientRateLimitBurst),
	}
}

// NewRateLimitedHTTPClient creates an HTTP client with rate limiting
func NewRateLimitedHTTPClient() *http.Client {
	return &http.Client{
		Transport: NewRateLimitedTransport(http.DefaultTransport),
		Timeout:   DefaultTimeout,
	}
}

// Client calls the resource API on behalf of a session
type Client struct {
	Endpoint   string
	Version    string
	SessionKey string
	HTTPClient *http.Client
	// ConditionalUpdates makes Update send If-Unmodified-Since
	ConditionalUpdates bool
}

// New returns a client for the API at the endpoint
func New(endpoint, version string, hc *http.Client) *Client {
	return &Client{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Version:    version,
		HTTPClient: hc,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) getReq(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s%s", c.Endpoint, path)

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, errors.Wrap(err, "constructing http request")
	}

	req.Header.Set("Carebook-Version", c.Version)
	req.Header.Set("Accept", contentTypeApplicationJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeApplicationJSON)
	}

	if c.SessionKey != "" {
		credential := fmt.Sprintf("Bearer %s", c.SessionKey)
		req.Header.Set("Authorization", credential)
	}

	return req, nil
}

// checkRespErr checks if the given http response indicates an error and
// returns an HTTPError carrying the response body as its message
func checkRespErr(res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "server responded with %d but client could not read the response body", res.StatusCode)
	}

	bodyStr := string(body)
	return &HTTPError{
		StatusCode: res.StatusCode,
		Message:    strings.TrimRight(bodyStr, "\n"),
	}
}

func checkContentType(res *http.Response) error {
	got := res.Header.Get("Content-Type")

	mediaType, _, err := mime.ParseMediaType(got)
	if err != nil || mediaType != contentTypeApplicationJSON {
		return errors.Wrapf(ErrContentTypeMismatch, "got: '%s' want: '%s'. Did you configure your endpoint correctly?", got, contentTypeApplicationJSON)
	}

	return nil
}

// do does a http request to the given path in the api endpoint and returns
// the response body. The given path should include the preceding slash.
func (c *Client) do(req *http.Request) ([]byte, error) {
	log.Debug("HTTP %s %s\n", req.Method, req.URL.Path)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	defer res.Body.Close()

	log.Debug("HTTP %s\n", res.Status)

	if err = checkRespErr(res); err != nil {
		return nil, errors.Wrap(err, "server responded with an error")
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, Path: req.URL.Path, Err: errors.Wrap(err, "reading the response body")}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if err = checkContentType(res); err != nil {
		return nil, errors.Wrap(err, "unexpected Content-Type")
	}

	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload interface{}, header http.Header) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling payload")
		}
		body = b
	}

	req, err := c.getReq(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	return c.do(req)
}

func singleRecord(body []byte) (map[string]interface{}, error) {
	if body == nil {
		return nil, ErrNoRecord
	}

	env, err := cache.Unwrap(body)
	if err != nil {
		return nil, errors.Wrap(err, "decoding the response")
	}

	ret, ok := env.Single()
	if !ok {
		return nil, errors.Wrapf(ErrNoRecord, "got %s", env.Shape)
	}

	return ret, nil
}

// Get fetches the resource or collection at the path and returns the
// response body
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil, nil)
}

// GetRecord fetches the single resource at the path
func (c *Client) GetRecord(ctx context.Context, path string) (map[string]interface{}, error) {
	body, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	return singleRecord(body)
}

// Create posts a new resource to the collection at the path and returns the
// server's representation of it
func (c *Client) Create(ctx context.Context, path string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := c.send(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}

	return singleRecord(body)
}

// Update patches the resource at the path. If unmodifiedSince is not zero and
// conditional updates are enabled, the server is asked to reject the update
// if the resource changed after that time (unix nanoseconds).
func (c *Client) Update(ctx context.Context, path string, payload map[string]interface{}, unmodifiedSince int64) (map[string]interface{}, error) {
	header := http.Header{}
	if c.ConditionalUpdates && unmodifiedSince != 0 {
		t := time.Unix(0, unmodifiedSince).UTC()
		header.Set("If-Unmodified-Since", t.Format(http.TimeFormat))
	}

	body, err := c.send(ctx, http.MethodPatch, path, payload, header)
	if err != nil {
		return nil, errors.Wrapf(err, "updating %s", path)
	}

	return singleRecord(body)
}

// Delete deletes the resource at the path
func (c *Client) Delete(ctx context.Context, path string) error {
	if _, err := c.send(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return errors.Wrapf(err, "deleting %s", path)
	}

	return nil
}

// Signout deletes the session on the server
func (c *Client) Signout(ctx context.Context) error {
	if c.SessionKey == "" {
		return nil
	}

	if _, err := c.send(ctx, http.MethodPost, "/signout", nil, nil); err != nil {
		return errors.Wrap(err, "signing out")
	}

	return nil
}

// Health checks that the API is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := c.getReq(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return &NetworkError{Method: req.Method, Path: req.URL.Path, Err: err}
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: res.StatusCode, Message: res.Status}
	}

	return nil
}
