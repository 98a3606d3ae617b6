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

package sqlar

import (
	"context"
	"sync"

	"github.com/tomoncle/sqlar/database"
	"github.com/tomoncle/sqlar/repository"
	"github.com/uptrace/bun"
)

// Service exposes an identity-mapped repository for T, built lazily on the
// global database handle set up by database.InitDB.
type Service[T any, K any] interface {
	repository.CrudRepository[T, K]

	// Repository returns the underlying repository, building it on first use.
	Repository() (*repository.EntityRepository[T, K], error)

	// SelectBuilder returns a Bun select query on the entity table, or
	// ErrNotInitialized before database.InitDB.
	SelectBuilder() (*bun.SelectQuery, error)

	// DeleteBuilder returns a Bun delete query on the entity table, or
	// ErrNotInitialized before database.InitDB.
	DeleteBuilder() (*bun.DeleteQuery, error)
}

type baseServiceImpl[T any, K any] struct {
	mu   sync.Mutex
	repo *repository.EntityRepository[T, K]
	err  error
	opts []repository.Option
}

// NewService returns a Service for T. Repository defaults come from the
// configuration passed to database.InitDB; opts are applied after them.
func NewService[T any, K any](opts ...repository.Option) Service[T, K] {
	return &baseServiceImpl[T, K]{opts: opts}
}

// Repository builds the repository on the first call made after
// database.InitDB. Calls before that return ErrNotInitialized and are retried
// on the next call; a mapping error is permanent.
func (s *baseServiceImpl[T, K]) Repository() (*repository.EntityRepository[T, K], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil || s.err != nil {
		return s.repo, s.err
	}
	db := database.GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	opts := append([]repository.Option{
		repository.WithConfig(database.GetConfig().RepositoryConfig),
	}, s.opts...)
	s.repo, s.err = repository.New[T, K](db, opts...)
	return s.repo, s.err
}

func (s *baseServiceImpl[T, K]) Count(ctx context.Context) (int, error) {
	repo, err := s.Repository()
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx)
}

func (s *baseServiceImpl[T, K]) FindByID(ctx context.Context, id K) (*T, error) {
	repo, err := s.Repository()
	if err != nil {
		return nil, err
	}
	return repo.FindByID(ctx, id)
}

func (s *baseServiceImpl[T, K]) FindAll(ctx context.Context) ([]*T, error) {
	repo, err := s.Repository()
	if err != nil {
		return nil, err
	}
	return repo.FindAll(ctx)
}

func (s *baseServiceImpl[T, K]) FindAllByID(ctx context.Context, ids []K) ([]*T, error) {
	repo, err := s.Repository()
	if err != nil {
		return nil, err
	}
	return repo.FindAllByID(ctx, ids)
}

func (s *baseServiceImpl[T, K]) ExistsByID(ctx context.Context, id K) (bool, error) {
	repo, err := s.Repository()
	if err != nil {
		return false, err
	}
	return repo.ExistsByID(ctx, id)
}

func (s *baseServiceImpl[T, K]) Save(ctx context.Context, entity *T) (*T, error) {
	repo, err := s.Repository()
	if err != nil {
		return nil, err
	}
	return repo.Save(ctx, entity)
}

func (s *baseServiceImpl[T, K]) SaveMany(ctx context.Context, entities []*T) ([]*T, error) {
	repo, err := s.Repository()
	if err != nil {
		return nil, err
	}
	return repo.SaveMany(ctx, entities)
}

func (s *baseServiceImpl[T, K]) Delete(ctx context.Context, entity *T) error {
	repo, err := s.Repository()
	if err != nil {
		return err
	}
	return repo.Delete(ctx, entity)
}

func (s *baseServiceImpl[T, K]) DeleteMany(ctx context.Context, entities []*T) error {
	repo, err := s.Repository()
	if err != nil {
		return err
	}
	return repo.DeleteMany(ctx, entities)
}

func (s *baseServiceImpl[T, K]) DeleteAll(ctx context.Context) error {
	repo, err := s.Repository()
	if err != nil {
		return err
	}
	return repo.DeleteAll(ctx)
}

func (s *baseServiceImpl[T, K]) DeleteByID(ctx context.Context, id K) error {
	repo, err := s.Repository()
	if err != nil {
		return err
	}
	return repo.DeleteByID(ctx, id)
}

func (s *baseServiceImpl[T, K]) SelectBuilder() (*bun.SelectQuery, error) {
	db := database.GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	return db.NewSelect().Model((*T)(nil)), nil
}

func (s *baseServiceImpl[T, K]) DeleteBuilder() (*bun.DeleteQuery, error) {
	db := database.GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	return db.NewDelete().Model((*T)(nil)), nil
}
