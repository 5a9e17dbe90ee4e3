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

package client

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// HTTPError represents an HTTP error response from the server
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf(`response %d "%s"`, e.StatusCode, e.Message)
}

// IsConflict returns true if the server refused the write because the
// resource changed
func (e *HTTPError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
}

// NetworkError is a request that got no response from the server
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AsHTTPError returns the HTTPError in the chain of err, if any
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}

	return nil, false
}

// IsNetworkError returns true if the request did not reach the server
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsTransient returns true if retrying the request later may succeed
func IsTransient(err error) bool {
	if IsNetworkError(err) {
		return true
	}

	he, ok := AsHTTPError(err)
	if !ok {
		return false
	}

	return he.StatusCode >= 500 || he.StatusCode == http.StatusTooManyRequests || he.StatusCode == http.StatusRequestTimeout
}

// IsPermanent returns true if the server rejected the request and retrying
// it cannot succeed
func IsPermanent(err error) bool {
	he, ok := AsHTTPError(err)
	if !ok {
		return false
	}

	return he.StatusCode >= 400 && he.StatusCode < 500 && !IsTransient(err)
}

// IsConflict returns true if the server rejected a write because the resource
// changed
func IsConflict(err error) bool {
	he, ok := AsHTTPError(err)
	return ok && he.IsConflict()
}

// IsNotFound returns true if the resource does not exist on the server
func IsNotFound(err error) bool {
	he, ok := AsHTTPError(err)
	return ok && (he.StatusCode == http.StatusNotFound || he.StatusCode == http.StatusGone)
}
