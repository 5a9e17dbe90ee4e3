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
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// KeySource tells how the key of a record was resolved during normalization
type KeySource int

const (
	// KeyCanonical means the record carried its canonical key field
	KeyCanonical KeySource = iota
	// KeyAlias means the key was taken from an alias of the canonical field
	KeyAlias
	// KeyHash means no identifier was found and the key was synthesized from the content
	KeyHash
)

// KeyString returns the string form of an identifier value, or an empty
// string if the value cannot serve as a key
func KeyString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// camelCase converts a snake_case field name to camelCase
func camelCase(field string) string {
	parts := strings.Split(field, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}

	return strings.Join(parts, "")
}

func keyAliases(data map[string]interface{}, keyField string) []string {
	ret := []string{"id", camelCase(keyField)}

	var others []string
	for k := range data {
		if k == keyField || k == "id" || k == ret[1] {
			continue
		}
		if strings.HasSuffix(k, "_id") {
			others = append(others, k)
		}
	}
	sort.Strings(others)

	return append(ret, others...)
}

// HashKey synthesizes a stable key from the serialized content of the data
func HashKey(data map[string]interface{}) (string, error) {
	// encoding/json sorts map keys, which makes the serialization canonical
	b, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, "serializing record for hashing")
	}

	sum := blake2b.Sum256(b)

	return consts.HashKeyPrefix + hex.EncodeToString(sum[:16]), nil
}

// Normalize resolves the primary key of the record data for the given key
// field and writes it back into the key field. Known aliases are tried when
// the canonical field is missing, and a content hash is used as a last resort.
func Normalize(data map[string]interface{}, keyField string) (string, KeySource, error) {
	if data == nil {
		return "", KeyCanonical, errors.New("record has no data")
	}

	if key := KeyString(data[keyField]); key != "" {
		return key, KeyCanonical, nil
	}

	for _, alias := range keyAliases(data, keyField) {
		if key := KeyString(data[alias]); key != "" {
			data[keyField] = key
			return key, KeyAlias, nil
		}
	}

	key, err := HashKey(data)
	if err != nil {
		return "", KeyHash, err
	}
	data[keyField] = key

	return key, KeyHash, nil
}

// NormalizeRecord sets the key of the record from its data for the given table
func NormalizeRecord(t Table, r *Record) (KeySource, error) {
	key, src, err := Normalize(r.Data, t.KeyField)
	if err != nil {
		return src, errors.Wrapf(err, "normalizing a %s record", t.Name)
	}
	r.Key = key

	return src, nil
}
