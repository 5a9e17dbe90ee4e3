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

package diff

import (
	"testing"

	"github.com/carebook/carebook/pkg/assert"
)

func TestFormat(t *testing.T) {
	local := map[string]interface{}{"allergies": "penicillin", "name": "Ada"}
	server := map[string]interface{}{"allergies": "none", "name": "Ada"}
	fields := []string{"name", "allergies"}

	got := Format(Do(Fields(local, fields), Fields(server, fields)))

	assert.Equal(t, got, "- allergies: penicillin\n+ allergies: none\n", "diff mismatch")
}

func TestFields(t *testing.T) {
	got := Fields(map[string]interface{}{"b": 2, "a": "x"}, []string{"b", "a", "c"})

	assert.Equal(t, got, "a: x\nb: 2\nc: (none)\n", "rendering mismatch")
}

func TestFormat_equal(t *testing.T) {
	s := "name: Ada\n"

	assert.Equal(t, Format(Do(s, s)), "", "equal inputs should have an empty diff")
}
