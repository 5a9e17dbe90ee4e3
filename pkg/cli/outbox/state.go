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

package outbox

import (
	"time"
)

// State is the lifecycle state of a queued operation
type State int

const (
	// Pending is an operation waiting to be replayed
	Pending State = iota
	// InFlight is an operation being replayed
	InFlight
	// Succeeded is an operation the server confirmed
	Succeeded
	// RetryScheduled is an operation that failed transiently and waits for
	// its next attempt
	RetryScheduled
	// Dropped is an operation removed without being applied
	Dropped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in flight"
	case Succeeded:
		return "succeeded"
	case RetryScheduled:
		return "retry scheduled"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Failure classifies the outcome of a replay attempt
type Failure int

const (
	// NoFailure is a confirmed replay
	NoFailure Failure = iota
	// TransientFailure may succeed if tried again later
	TransientFailure
	// PermanentFailure cannot succeed
	PermanentFailure
)

// Policy bounds the retries of an operation
type Policy struct {
	// BaseDelay is the delay before the first retry. It doubles on every
	// further retry.
	BaseDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// Ceiling is the number of retries after which an operation is dropped
	Ceiling int
}

// DefaultPolicy retries after 1s, 2s and 4s, and gives up on the fourth
// failure
var DefaultPolicy = Policy{
	BaseDelay: time.Second,
	MaxDelay:  30 * time.Second,
	Ceiling:   3,
}

// Backoff returns min(MaxDelay, BaseDelay * 2^retryCount)
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	d := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}

	return d
}

// Transition is the state an operation moves to after an attempt
type Transition struct {
	State State
	// RetryCount is the retry count to persist for RetryScheduled
	RetryCount int
	// Delay is how long to wait before the next attempt for RetryScheduled
	Delay time.Duration
}

// Next returns the state an in-flight operation that already failed
// retryCount times moves to, given the outcome of its attempt
func Next(retryCount int, f Failure, p Policy) Transition {
	switch f {
	case NoFailure:
		return Transition{State: Succeeded, RetryCount: retryCount}
	case TransientFailure:
		if retryCount+1 > p.Ceiling {
			return Transition{State: Dropped, RetryCount: retryCount + 1}
		}

		return Transition{
			State:      RetryScheduled,
			RetryCount: retryCount + 1,
			Delay:      p.Backoff(retryCount),
		}
	default:
		return Transition{State: Dropped, RetryCount: retryCount}
	}
}
