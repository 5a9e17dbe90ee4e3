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

// Package notify delivers user-facing notices about queued writes that could
// not be applied
package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/carebook/carebook/pkg/cli/log"
)

// Kind is the kind of a notice
type Kind string

const (
	// KindConflict is a queued edit rejected because the record changed on
	// the server
	KindConflict Kind = "conflict"
	// KindRejected is a queued write the server refused
	KindRejected Kind = "rejected"
	// KindGaveUp is a queued write dropped after too many failed attempts
	KindGaveUp Kind = "gave_up"
)

// Notice describes the outcome of a queued write that the user must act upon
type Notice struct {
	Kind    Kind
	Table   string
	Key     string
	Message string
	// Diff shows the rejected local values against the server's, if any
	Diff string
}

func (n Notice) String() string {
	switch n.Kind {
	case KindConflict:
		return fmt.Sprintf("%s %s was changed by someone else. Your edit was not saved; please redo it.", n.Table, n.Key)
	case KindGaveUp:
		return fmt.Sprintf("%s %s could not be saved after several attempts: %s", n.Table, n.Key, n.Message)
	default:
		return fmt.Sprintf("%s %s was rejected by the server: %s", n.Table, n.Key, n.Message)
	}
}

// Notifier receives notices
type Notifier interface {
	Notify(Notice)
}

// Console prints notices to the terminal
type Console struct{}

// Notify implements Notifier
func (Console) Notify(n Notice) {
	if n.Kind == KindConflict {
		log.Warnf("%s\n", n)
	} else {
		log.Errorf("%s\n", n)
	}

	if n.Diff != "" {
		for _, line := range strings.Split(strings.TrimRight(n.Diff, "\n"), "\n") {
			log.Plainf("  %s\n", line)
		}
	}
}

// Recorder keeps notices in memory
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notices = append(r.notices, n)
}

// Notices returns the notices received so far
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()

	ret := make([]Notice, len(r.notices))
	copy(ret, r.notices)

	return ret
}

// Multi fans notices out to several notifiers
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(n Notice) {
	for _, x := range m {
		x.Notify(n)
	}
}
