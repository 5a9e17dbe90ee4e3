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
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds. A
// seconds value this large would be in the year 33658.
const epochMillisThreshold = 1e12

func fromEpoch(n float64) int64 {
	if n >= epochMillisThreshold {
		return int64(n) * int64(time.Millisecond)
	}

	sec := math.Floor(n)

	return int64(sec)*int64(time.Second) + int64((n-sec)*float64(time.Second))
}

// ParseTimestamp reads a last-modified value as sent by the API and returns
// it in unix nanoseconds. Strings are parsed as RFC 3339 (or the SQL
// datetime layout) and numbers as epoch seconds or milliseconds.
func ParseTimestamp(v interface{}) (int64, error) {
	switch val := v.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UnixNano(), nil
			}
		}
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			return fromEpoch(n), nil
		}

		return 0, errors.Errorf("unrecognized timestamp '%s'", val)
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return 0, errors.Wrapf(err, "parsing timestamp '%s'", val)
		}

		return fromEpoch(n), nil
	case float64:
		return fromEpoch(val), nil
	case int64:
		return fromEpoch(float64(val)), nil
	case int:
		return fromEpoch(float64(val)), nil
	case nil:
		return 0, errors.New("missing timestamp")
	default:
		return 0, errors.Errorf("unsupported timestamp type %T", v)
	}
}

// Timestamp returns the last-modified time carried by the given field of the
// record data, or 0 if it is absent or unreadable.
func Timestamp(data map[string]interface{}, field string) int64 {
	ts, err := ParseTimestamp(data[field])
	if err != nil {
		return 0
	}

	return ts
}
