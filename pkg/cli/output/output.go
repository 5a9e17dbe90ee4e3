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

// Package output provides functions to print informations on the terminal
// in a consistent manner
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/outbox"
	"github.com/carebook/carebook/pkg/cli/sync"
	"github.com/pkg/errors"
)

const timeLayout = "Jan 2, 2006 3:04pm (MST)"

// Records prints records as indented JSON, one after another
func Records(w io.Writer, recs []map[string]interface{}) error {
	for _, r := range recs {
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding record")
		}

		fmt.Fprintf(w, "%s\n", b)
	}

	return nil
}

// Operation formats a queued operation on one line
func Operation(op outbox.Operation, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#%d %s %s %s", op.ID, op.Kind, op.Endpoint, op.RecordKey)
	if op.RetryCount > 0 {
		fmt.Fprintf(&b, " (retry %d", op.RetryCount)
		if wait := time.Unix(0, op.NextAttemptAt).Sub(now); wait > 0 {
			fmt.Fprintf(&b, " in %s", wait.Round(time.Second))
		}
		b.WriteString(")")
	}
	if op.LastError != "" {
		fmt.Fprintf(&b, ": %s", op.LastError)
	}

	return b.String()
}

// Report prints the summary of a drain pass
func Report(r sync.Report) {
	if r.Skipped {
		log.Warnf("a sync is already in progress\n")
		return
	}

	log.Successf("sent %d, rejected %d, dropped %d\n", r.Succeeded, r.Rejected, r.Dropped)
	if r.Deferred > 0 {
		log.Infof("%d writes left for a later sync\n", r.Deferred)
	}
}

// Time formats a unix nanosecond timestamp. 0 reads as never.
func Time(ts int64) string {
	if ts == 0 {
		return "never"
	}

	return time.Unix(0, ts).Format(timeLayout)
}
