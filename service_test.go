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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/sqlar/database"
	"github.com/tomoncle/sqlar/mapping"
	"github.com/uptrace/bun"
)

type book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID    int64  `bun:"id,pk"`
	Title string `bun:"title"`
	Stock int    `bun:"stock"`
}

type unmappedBook struct {
	ID int64
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()
	cfg := &database.Config{ConnectionConfig: *database.DefaultConnectionConfig()}
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = database.MemoryDBName
	cfg.RepositoryConfig.SharedSession = true

	db, err := database.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })

	ctx := context.Background()
	_, err = db.NewCreateTable().Model((*book)(nil)).Exec(ctx)
	require.NoError(t, err)
	books := []*book{{ID: 1, Title: "Dune", Stock: 3}, {ID: 2, Title: "Emma", Stock: 0}}
	_, err = db.NewInsert().Model(&books).Exec(ctx)
	require.NoError(t, err)
	return db
}

func TestServiceBeforeInit(t *testing.T) {
	svc := NewService[book, int64]()
	_, err := svc.FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.Count(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.SelectBuilder()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.DeleteBuilder()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestServiceUsableAfterLateInit(t *testing.T) {
	svc := NewService[book, int64]()
	ctx := context.Background()

	_, err := svc.Count(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)

	setupDB(t)
	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := svc.FindByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Dune", b.Title)
}

func TestService(t *testing.T) {
	setupDB(t)
	svc := NewService[book, int64]()
	ctx := context.Background()

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dune, err := svc.FindByID(ctx, 1)
	require.NoError(t, err)
	same, err := svc.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, dune, same)

	dune.Stock = 2
	_, err = svc.Save(ctx, dune)
	require.NoError(t, err)

	var stock int
	q, err := svc.SelectBuilder()
	require.NoError(t, err)
	require.NoError(t, q.Column("stock").Where("id = ?", 1).Scan(ctx, &stock))
	assert.Equal(t, 2, stock)

	repo, err := svc.Repository()
	require.NoError(t, err)
	assert.Equal(t, "books", repo.Descriptor().Name)

	ok, err := svc.ExistsByID(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := svc.FindAllByID(ctx, []int64{2, 1})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, dune, all[1])

	require.NoError(t, svc.DeleteByID(ctx, 2))
	require.NoError(t, svc.Delete(ctx, dune))
	n, err = svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestServiceBulkOperations(t *testing.T) {
	setupDB(t)
	svc := NewService[book, int64]()
	ctx := context.Background()

	all, err := svc.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, b := range all {
		b.Stock += 10
	}
	_, err = svc.SaveMany(ctx, all)
	require.NoError(t, err)

	var stocks []int
	q, err := svc.SelectBuilder()
	require.NoError(t, err)
	require.NoError(t, q.Column("stock").Order("id").Scan(ctx, &stocks))
	assert.Equal(t, []int{13, 10}, stocks)

	require.NoError(t, svc.DeleteMany(ctx, all[:1]))
	del, err := svc.DeleteBuilder()
	require.NoError(t, err)
	_, err = del.Where("id = ?", 2).Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteAll(ctx))
}

func TestServiceSurfacesMappingError(t *testing.T) {
	setupDB(t)
	svc := NewService[unmappedBook, int64]()

	_, err := svc.FindAll(context.Background())
	var mappingErr *mapping.MappingError
	assert.ErrorAs(t, err, &mappingErr)
	assert.ErrorIs(t, err, mapping.ErrNotMapped)
}
