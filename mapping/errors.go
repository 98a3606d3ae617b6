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
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNotStruct      = errors.New("entity type is not a struct")
	ErrNotMapped      = errors.New("entity type has no table mapping (embed bun.BaseModel)")
	ErrNoPrimaryKey   = errors.New("entity type declares no primary key")
	ErrMultipleTables = errors.New("entity type is mapped to more than one table")

	ErrKeyArity = errors.New("wrong number of primary key values")
	ErrKeyType  = errors.New("primary key value has an incompatible type")
)

// MappingError is returned when a type cannot back a repository. It is raised
// at construction time, before any repository instance is usable.
type MappingError struct {
	Type   reflect.Type
	Reason error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("invalid entity mapping for %v: %v", e.Type, e.Reason)
}

func (e *MappingError) Unwrap() error { return e.Reason }

func mappingError(typ reflect.Type, reason error) *MappingError {
	return &MappingError{Type: typ, Reason: reason}
}
