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

package database

import (
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/tomoncle/sqlar/mapping"
	"github.com/uptrace/bun"
)

var defaultRegistry = newEntityRegistry()

// SQLModel is an entity registered for startup validation. Instance returns a
// struct pointer compatible with Bun; Priority orders validation and logging
// (lower values first).
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// EntityRegistry stores entity models and exposes them in a deterministic order.
type EntityRegistry interface {
	Register(model SQLModel)
	Models() []SQLModel
}

type entityRegistry struct {
	models []SQLModel
	mutex  sync.RWMutex
}

// NewEntityRegistry returns an empty registry, independent of the default one.
func NewEntityRegistry() EntityRegistry {
	return newEntityRegistry()
}

func newEntityRegistry() EntityRegistry {
	return &entityRegistry{models: make([]SQLModel, 0)}
}

func (r *entityRegistry) Register(model SQLModel) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.models = append(r.models, model)
}

func (r *entityRegistry) Models() []SQLModel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]SQLModel, len(r.models))
	copy(result, r.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

type modelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct pointer and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &modelAdapter{instance: instance, priority: priority}
}

func (a *modelAdapter) Instance() interface{} { return a.instance }

func (a *modelAdapter) Priority() int { return a.priority }

// RegisterEntity adds an entity to the default registry, e.g.
// RegisterEntity((*User)(nil)).
func RegisterEntity(instance interface{}) {
	RegisterModel(NewModelAdapter(instance, 0))
}

// RegisterModel adds a model to the default registry.
func RegisterModel(model SQLModel) {
	defaultRegistry.Register(model)
}

// RegisteredEntities returns the registered models sorted by priority.
func RegisteredEntities() []SQLModel {
	return defaultRegistry.Models()
}

// ValidateEntities derives the table descriptor of every registered entity
// so that invalid mappings fail at startup instead of on first use.
func ValidateEntities(db bun.IDB) error {
	return ValidateModels(db, RegisteredEntities())
}

// ValidateModels checks that every model maps to exactly one table and
// returns all failures joined.
func ValidateModels(db bun.IDB, models []SQLModel) error {
	var errs []error
	for _, model := range models {
		if _, err := mapping.DescribeType(db, reflect.TypeOf(model.Instance())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
