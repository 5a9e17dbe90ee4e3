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

// Package appctx defines the runtime context shared by the carebook commands
package appctx

import (
	"net/http"
	"time"

	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/clock"
)

// Paths contain directory definitions
type Paths struct {
	Home   string
	Config string
	Data   string
	Cache  string
}

// Ctx is a context holding the information of the current runtime
type Ctx struct {
	Paths       Paths
	APIEndpoint string
	Version     string
	// Domain is the trust domain whose database is open
	Domain     string
	DB         *database.DB
	SessionKey string
	Clock      clock.Clock
	// HTTPClient is the rate limited client used to reach the API. The
	// offline service installs the cache interceptor on top of its
	// transport.
	HTTPClient *http.Client

	SyncInterval       time.Duration
	RetryCeiling       int
	ConditionalUpdates bool
	TimestampField     string
}

// Redact replaces private information from the context with a set of
// placeholder values.
func Redact(ctx Ctx) Ctx {
	var sessionKey string
	if ctx.SessionKey != "" {
		sessionKey = "1"
	} else {
		sessionKey = "0"
	}
	ctx.SessionKey = sessionKey

	return ctx
}
