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

package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/carebook/carebook/pkg/assert"
)

func TestParseTimestamp(t *testing.T) {
	ref := time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

	testCases := []struct {
		input    interface{}
		expected int64
	}{
		{input: "2025-03-03T09:30:00Z", expected: ref.UnixNano()},
		{input: "2025-03-03T10:30:00+01:00", expected: ref.UnixNano()},
		{input: "2025-03-03T09:30:00.000000250Z", expected: ref.UnixNano() + 250},
		{input: "2025-03-03 09:30:00", expected: ref.UnixNano()},
		{input: json.Number("17x"), expected: 0},
		{input: json.Number("1740994200"), expected: ref.UnixNano()},
		{input: json.Number("1740994200000"), expected: ref.UnixNano()},
		{input: float64(1740994200), expected: ref.UnixNano()},
		{input: "1740994200", expected: ref.UnixNano()},
	}

	for _, tc := range testCases {
		got, err := ParseTimestamp(tc.input)
		if tc.expected == 0 {
			if err == nil {
				t.Errorf("expected an error for %v", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parsing %v: %s", tc.input, err)
		}

		assert.Equal(t, got, tc.expected, "timestamp mismatch")
	}
}

func TestTimestamp(t *testing.T) {
	data := map[string]interface{}{"updated_at": "not a date", "modified": "2025-03-03T09:30:00Z"}

	assert.Equal(t, Timestamp(data, "updated_at"), int64(0), "unreadable timestamp should be zero")
	assert.Equal(t, Timestamp(data, "created_at"), int64(0), "missing timestamp should be zero")
	assert.NotEqual(t, Timestamp(data, "modified"), int64(0), "timestamp should be read")
}
