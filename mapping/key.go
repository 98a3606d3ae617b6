/*
 * Copyright 2025 tomoncle.
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

package mapping

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// KeyValuer is implemented by composite key values. The values are returned
// in primary-key column order.
type KeyValuer interface {
	KeyValues() []any
}

// Tuple is an ordered composite primary key, e.g. Tuple{orgID, userID}.
type Tuple []any

func (t Tuple) KeyValues() []any { return t }

// Key is a normalized primary key: one value per primary-key column, each
// converted to the Go type of its column.
type Key struct {
	values []any
	id     string
}

// newKey builds the identity of values by length-prefixing each canonical
// part, so no two distinct tuples share an ID whatever bytes they contain.
func newKey(values []any) Key {
	var b strings.Builder
	for _, v := range values {
		part := canonical(v)
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return Key{values: values, id: b.String()}
}

// Len returns the number of key columns.
func (k Key) Len() int { return len(k.values) }

// Values returns a copy of the key values.
func (k Key) Values() []any {
	out := make([]any, len(k.values))
	copy(out, k.values)
	return out
}

// ID returns the comparable form of the key used by identity maps.
func (k Key) ID() string { return k.id }

func (k Key) String() string {
	if len(k.values) == 1 {
		return fmt.Sprint(k.values[0])
	}
	return fmt.Sprint(k.values)
}

func canonical(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("%x", t)
	default:
		return fmt.Sprint(v)
	}
}

// NormalizeKey turns a caller-supplied id into a Key. Scalar ids become a
// one-element tuple; KeyValuer ids are expanded. Each value is converted to
// the Go type of its primary-key column.
func (d *TableDescriptor) NormalizeKey(id any) (Key, error) {
	var raw []any
	switch v := id.(type) {
	case Key:
		raw = v.values
	case KeyValuer:
		raw = v.KeyValues()
	default:
		raw = []any{id}
	}
	if len(raw) != len(d.pkFields) {
		return Key{}, fmt.Errorf("%w: got %d, want %d (%s)",
			ErrKeyArity, len(raw), len(d.pkFields), strings.Join(d.PrimaryKeys, ", "))
	}
	values := make([]any, len(raw))
	for i, f := range d.pkFields {
		cv, err := convertKeyValue(raw[i], f.IndirectType)
		if err != nil {
			return Key{}, fmt.Errorf("column %s: %w", f.Name, err)
		}
		values[i] = cv
	}
	return newKey(values), nil
}

func convertKeyValue(v any, target reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil", ErrKeyType)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil", ErrKeyType)
	}
	if rv.Type() == target {
		return rv.Interface(), nil
	}
	if !rv.Type().ConvertibleTo(target) {
		return nil, fmt.Errorf("%w: %s is not convertible to %s", ErrKeyType, rv.Type(), target)
	}

	src, dst := kindClass(rv.Kind()), kindClass(target.Kind())
	if src != dst && !(src == classNumeric && dst == classNumeric) {
		return nil, fmt.Errorf("%w: %s is not convertible to %s", ErrKeyType, rv.Type(), target)
	}
	if src == classNumeric && isUnsigned(target.Kind()) && isNegative(rv) {
		return nil, fmt.Errorf("%w: %v is negative for %s", ErrKeyType, v, target)
	}
	out := rv.Convert(target)
	if src == classNumeric && isUnsigned(rv.Kind()) && isSigned(target.Kind()) && out.Int() < 0 {
		// uint64(1<<64-1) wraps to int64(-1) and survives the round trip below
		return nil, fmt.Errorf("%w: %v overflows %s", ErrKeyType, v, target)
	}
	if src == classNumeric {
		// reject lossy conversions such as 1.5 -> 1 or 300 -> uint8
		back := out.Convert(rv.Type())
		if !reflect.DeepEqual(back.Interface(), rv.Interface()) {
			return nil, fmt.Errorf("%w: %v overflows %s", ErrKeyType, v, target)
		}
	}
	return out.Interface(), nil
}

type valueClass int

const (
	classOther valueClass = iota
	classNumeric
	classString
)

func kindClass(k reflect.Kind) valueClass {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return classNumeric
	case reflect.String:
		return classString
	default:
		return classOther
	}
}

func isNegative(v reflect.Value) bool {
	switch {
	case isSigned(v.Kind()):
		return v.Int() < 0
	case v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64:
		return v.Float() < 0
	default:
		return false
	}
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}
