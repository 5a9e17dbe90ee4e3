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

package cache

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Shape is the layout of a response body
type Shape int

const (
	// Unknown is a body that does not carry resources
	Unknown Shape = iota
	// BareArray is a top-level JSON array of resources
	BareArray
	// BareObject is a single top-level resource
	BareObject
	// DataArray is {"data": [...]}
	DataArray
	// DataObject is {"data": {...}}
	DataObject
	// ItemsWrapper is {"items": [...]}
	ItemsWrapper
	// RowsWrapper is {"rows": [...]}
	RowsWrapper
)

func (s Shape) String() string {
	switch s {
	case BareArray:
		return "bare array"
	case BareObject:
		return "bare object"
	case DataArray:
		return "data array"
	case DataObject:
		return "data object"
	case ItemsWrapper:
		return "items wrapper"
	case RowsWrapper:
		return "rows wrapper"
	default:
		return "unknown"
	}
}

// ErrUnknownShape is returned by Unwrap for a body that carries no resources
var ErrUnknownShape = errors.New("unknown response shape")

// Envelope is a response body resolved into the resources it carries
type Envelope struct {
	Shape Shape
	Items []map[string]interface{}
}

// Single returns the only resource of an envelope holding one object
func (e Envelope) Single() (map[string]interface{}, bool) {
	if e.Shape != BareObject && e.Shape != DataObject {
		return nil, false
	}
	if len(e.Items) != 1 {
		return nil, false
	}

	return e.Items[0], true
}

func decode(body []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var ret interface{}
	if err := dec.Decode(&ret); err != nil {
		return nil, errors.Wrap(err, "decoding response body")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after response body")
	}

	return ret, nil
}

func toItems(v []interface{}) ([]map[string]interface{}, error) {
	ret := make([]map[string]interface{}, 0, len(v))
	for i, elm := range v {
		obj, ok := elm.(map[string]interface{})
		if !ok {
			return nil, errors.Wrapf(ErrUnknownShape, "element %d is not an object", i)
		}

		ret = append(ret, obj)
	}

	return ret, nil
}

func wrapped(obj map[string]interface{}, field string) ([]interface{}, bool) {
	v, ok := obj[field].([]interface{})
	return v, ok
}

// Unwrap resolves a response body into an Envelope. Shapes are tried in a
// fixed order: bare array, data array, data object, items, rows and finally
// bare object.
func Unwrap(body []byte) (Envelope, error) {
	v, err := decode(body)
	if err != nil {
		return Envelope{}, err
	}

	if arr, ok := v.([]interface{}); ok {
		items, err := toItems(arr)
		if err != nil {
			return Envelope{}, err
		}

		return Envelope{Shape: BareArray, Items: items}, nil
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return Envelope{}, errors.Wrapf(ErrUnknownShape, "top-level %T", v)
	}

	if arr, ok := wrapped(obj, "data"); ok {
		items, err := toItems(arr)
		if err != nil {
			return Envelope{}, err
		}

		return Envelope{Shape: DataArray, Items: items}, nil
	}
	if data, ok := obj["data"].(map[string]interface{}); ok {
		return Envelope{Shape: DataObject, Items: []map[string]interface{}{data}}, nil
	}

	wrappers := []struct {
		field string
		shape Shape
	}{
		{"items", ItemsWrapper},
		{"rows", RowsWrapper},
	}
	for _, w := range wrappers {
		if arr, ok := wrapped(obj, w.field); ok {
			items, err := toItems(arr)
			if err != nil {
				return Envelope{}, err
			}

			return Envelope{Shape: w.shape, Items: items}, nil
		}
	}

	if len(obj) == 0 {
		return Envelope{}, errors.Wrap(ErrUnknownShape, "empty object")
	}

	return Envelope{Shape: BareObject, Items: []map[string]interface{}{obj}}, nil
}
