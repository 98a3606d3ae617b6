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

package repository

import (
	"context"

	"github.com/tomoncle/sqlar/mapping"
)

// CrudRepository defines the CRUD contract for an entity type T identified by
// keys of type K. K is a scalar for single-column keys or a mapping.Tuple
// (or any mapping.KeyValuer) for composite keys.
type CrudRepository[T any, K any] interface {
	// Count returns the number of rows in the entity table.
	Count(ctx context.Context) (int, error)

	// FindByID returns the entity with the given key, or nil if there is none.
	FindByID(ctx context.Context, id K) (*T, error)

	// FindAll returns every entity in the table.
	FindAll(ctx context.Context) ([]*T, error)

	// FindAllByID returns the entities for ids in order, skipping missing keys.
	FindAllByID(ctx context.Context, ids []K) ([]*T, error)

	// ExistsByID reports whether a row with the given key exists.
	ExistsByID(ctx context.Context, id K) (bool, error)

	// Save flushes changes of an entity previously fetched from the repository.
	Save(ctx context.Context, entity *T) (*T, error)

	// SaveMany saves entities in order and stops at the first error.
	SaveMany(ctx context.Context, entities []*T) ([]*T, error)

	// Delete removes an entity previously fetched from the repository.
	Delete(ctx context.Context, entity *T) error

	// DeleteMany deletes entities in order and stops at the first error.
	DeleteMany(ctx context.Context, entities []*T) error

	// DeleteAll removes every row and forgets all tracked entities.
	DeleteAll(ctx context.Context) error

	// DeleteByID removes the row with the given key, if any.
	DeleteByID(ctx context.Context, id K) error
}

// TrackingRepository exposes the identity map of a repository.
type TrackingRepository[T any] interface {
	Descriptor() *mapping.TableDescriptor
	Tracked() int
	IsTracked(entity *T) bool
	Detach(entity *T)
	Close()
}

// Repository combines the CRUD contract with identity map introspection.
type Repository[T any, K any] interface {
	CrudRepository[T, K]
	TrackingRepository[T]
}
