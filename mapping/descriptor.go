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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

var baseModelType = reflect.TypeOf(bun.BaseModel{})

// TableDescriptor describes the single table that backs an entity type.
type TableDescriptor struct {
	Name        string
	Columns     []string
	PrimaryKeys []string
	Table       *schema.Table

	pkFields   []*schema.Field
	dataFields []*schema.Field
}

// Describe derives the descriptor of T using the dialect registered on db.
func Describe[T any](db bun.IDB) (*TableDescriptor, error) {
	return DescribeType(db, reflect.TypeOf((*T)(nil)).Elem())
}

// DescribeType derives the descriptor for typ. Pointer types are dereferenced.
// A *MappingError is returned when typ does not map to exactly one table.
func DescribeType(db bun.IDB, typ reflect.Type) (*TableDescriptor, error) {
	if typ == nil {
		return nil, mappingError(typ, ErrNotStruct)
	}
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, mappingError(typ, ErrNotStruct)
	}
	if !embedsBaseModel(typ) {
		return nil, mappingError(typ, ErrNotMapped)
	}

	table := db.Dialect().Tables().Get(typ)
	if table == nil || table.Name == "" {
		return nil, mappingError(typ, ErrNotMapped)
	}
	if table.SQLNameForSelects != "" && table.SQLNameForSelects != table.SQLName {
		return nil, mappingError(typ, fmt.Errorf("%w: writes go to %s, reads come from %s",
			ErrMultipleTables, table.SQLName, table.SQLNameForSelects))
	}
	if len(table.PKs) == 0 {
		return nil, mappingError(typ, ErrNoPrimaryKey)
	}

	desc := &TableDescriptor{
		Name:        table.Name,
		Columns:     make([]string, 0, len(table.Fields)),
		PrimaryKeys: make([]string, 0, len(table.PKs)),
		Table:       table,
		pkFields:    table.PKs,
		dataFields:  table.DataFields,
	}
	for _, f := range table.Fields {
		desc.Columns = append(desc.Columns, f.Name)
	}
	for _, f := range table.PKs {
		desc.PrimaryKeys = append(desc.PrimaryKeys, f.Name)
	}
	return desc, nil
}

func embedsBaseModel(typ reflect.Type) bool {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Anonymous && f.Type == baseModelType {
			return true
		}
	}
	return false
}

// Type returns the entity struct type.
func (d *TableDescriptor) Type() reflect.Type { return d.Table.Type }

// IsComposite reports whether the primary key spans more than one column.
func (d *TableDescriptor) IsComposite() bool { return len(d.pkFields) > 1 }

// KeyOf reads the primary key of a loaded entity.
func (d *TableDescriptor) KeyOf(model any) (Key, error) {
	strct, err := d.structValue(model)
	if err != nil {
		return Key{}, err
	}
	values := make([]any, len(d.pkFields))
	for i, f := range d.pkFields {
		fv := indirect(strct.FieldByIndex(f.Index))
		if !fv.IsValid() {
			return Key{}, fmt.Errorf("%w: column %s is nil", ErrKeyType, f.Name)
		}
		values[i] = fv.Interface()
	}
	return newKey(values), nil
}

// SetKey writes key into the primary-key fields of model.
func (d *TableDescriptor) SetKey(model any, key Key) error {
	strct, err := d.structValue(model)
	if err != nil {
		return err
	}
	if key.Len() != len(d.pkFields) {
		return fmt.Errorf("%w: got %d, want %d", ErrKeyArity, key.Len(), len(d.pkFields))
	}
	for i, f := range d.pkFields {
		fv := strct.FieldByIndex(f.Index)
		v := reflect.ValueOf(key.values[i])
		if fv.Kind() == reflect.Ptr {
			ptr := reflect.New(fv.Type().Elem())
			ptr.Elem().Set(v)
			fv.Set(ptr)
			continue
		}
		fv.Set(v)
	}
	return nil
}

// Snapshot captures the non-key column values of model so later changes can
// be detected with Changed.
func (d *TableDescriptor) Snapshot(model any) []any {
	strct, err := d.structValue(model)
	if err != nil {
		return nil
	}
	snap := make([]any, len(d.dataFields))
	for i, f := range d.dataFields {
		snap[i] = cloneValue(strct.FieldByIndex(f.Index)).Interface()
	}
	return snap
}

// Changed returns the names of non-key columns whose value differs from snap.
// A nil snapshot reports every column as changed.
func (d *TableDescriptor) Changed(model any, snap []any) []string {
	strct, err := d.structValue(model)
	if err != nil {
		return nil
	}
	var changed []string
	for i, f := range d.dataFields {
		current := strct.FieldByIndex(f.Index).Interface()
		if snap == nil || !reflect.DeepEqual(current, snap[i]) {
			changed = append(changed, f.Name)
		}
	}
	return changed
}

func (d *TableDescriptor) structValue(model any) (reflect.Value, error) {
	v := reflect.ValueOf(model)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Type() != d.Table.Type {
		return reflect.Value{}, fmt.Errorf("expected *%s, got %T", d.Table.Type.Name(), model)
	}
	return v.Elem(), nil
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// cloneValue copies slices and maps so that in-place mutation of the live
// entity does not leak into its snapshot.
func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneValue(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem()))
		return out
	default:
		return v
	}
}
