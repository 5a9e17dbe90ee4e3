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

package assert

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestWaitForPrompt(t *testing.T) {
	err := WaitForPrompt(strings.NewReader("[?] log out anyway? (y/N): "), "log out anyway?", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	err = WaitForPrompt(strings.NewReader("logged out\n"), "log out anyway?", time.Second)
	if err == nil {
		t.Error("expected an error for a missing prompt")
	}
}

func TestWaitForPrompt_timeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	err := WaitForPrompt(r, "delete", 50*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected a timeout, got %v", err)
	}
}
