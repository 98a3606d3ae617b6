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
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk"`
	Name string `bun:"name,notnull,unique"`
}

type looseWidget struct {
	ID int64 `bun:"id,pk"`
}

func newSQLiteManager(t *testing.T) AbstractDatabaseManager {
	t.Helper()
	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = MemoryDBName
	cfg.SlowQueryTime = 0

	manager := NewDatabaseManager(cfg)
	manager.SetLogger(NopLogger{})
	require.NoError(t, manager.Connect(context.Background()))
	t.Cleanup(func() { _ = manager.Disconnect() })

	_, err := manager.GetDB().NewCreateTable().Model((*widget)(nil)).Exec(context.Background())
	require.NoError(t, err)
	return manager
}

func TestIsSqlError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   bool
		kind SQLError
	}{
		{"nil", nil, false, UnknownErr},
		{"plain", errors.New("boom"), false, UnknownErr},
		{"no rows", fmt.Errorf("load: %w", sql.ErrNoRows), true, NoRowsErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, DuplicateKeyErr},
		{"mysql unknown", &mysql.MySQLError{Number: 9999}, true, UnknownErr},
		{"pq foreign key", &pq.Error{Code: "23503"}, true, ForeignKeyViolationErr},
		{"pq wrapped missing table", fmt.Errorf("query: %w", &pq.Error{Code: "42P01"}), true, NoTableErr},
		{"sqlite not null", errors.New("constraint failed: NOT NULL constraint failed: widgets.name (1299)"), true, NotNullViolationErr},
		{"sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true, LockedErr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is, kind := IsSqlError(tc.err)
			assert.Equal(t, tc.is, is)
			assert.Equal(t, tc.kind, kind)
		})
	}
	assert.Equal(t, "duplicate_key", DuplicateKeyErr.String())
	assert.Equal(t, "unknown", SQLError(100).String())
}

func TestIsSqlErrorFromSQLite(t *testing.T) {
	db := newSQLiteManager(t).GetDB()
	ctx := context.Background()

	_, err := db.NewInsert().Model(&widget{ID: 1, Name: "bolt"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&widget{ID: 2, Name: "bolt"}).Exec(ctx)
	require.Error(t, err)
	is, kind := IsSqlError(err)
	assert.True(t, is)
	assert.Equal(t, DuplicateKeyErr, kind)

	_, err = db.NewSelect().Table("gears").Column("id").Exec(ctx)
	require.Error(t, err)
	is, kind = IsSqlError(err)
	assert.True(t, is)
	assert.Equal(t, NoTableErr, kind)
}

func TestManagerLifecycle(t *testing.T) {
	manager := newSQLiteManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Ping(ctx))
	require.NoError(t, manager.Connect(ctx), "connect is idempotent")

	status := manager.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.MaxOpenConns, "in-memory sqlite is pinned to one connection")
	assert.Equal(t, 1, manager.GetStats().MaxOpenConns)

	require.NoError(t, manager.Reconnect(ctx))
	require.NoError(t, manager.Ping(ctx))

	require.NoError(t, manager.Disconnect())
	assert.Nil(t, manager.GetDB())
	assert.Error(t, manager.Ping(ctx))
	assert.False(t, manager.HealthCheck(ctx).Healthy)
	assert.Equal(t, &DBStats{}, manager.GetStats())
}

func TestInMemoryDatabasesAreIsolated(t *testing.T) {
	a := newSQLiteManager(t).GetDB()
	b := newSQLiteManager(t).GetDB()
	ctx := context.Background()

	_, err := a.NewInsert().Model(&widget{ID: 1, Name: "nut"}).Exec(ctx)
	require.NoError(t, err)

	n, err := b.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueryStats(t *testing.T) {
	manager := newSQLiteManager(t)
	db := manager.GetDB()
	stats := manager.QueryStats()
	ctx := context.Background()
	stats.Reset()

	_, err := db.NewInsert().Model(&widget{ID: 1, Name: "nut"}).Exec(ctx)
	require.NoError(t, err)
	var w widget
	require.NoError(t, db.NewSelect().Model(&w).Where("id = ?", 1).Scan(ctx))
	err = db.NewSelect().Model(&w).Where("id = ?", 2).Scan(ctx)
	require.ErrorIs(t, err, sql.ErrNoRows)
	_, err = db.NewSelect().Table("gears").Column("id").Exec(ctx)
	require.Error(t, err)

	assert.Equal(t, 4, stats.Total())
	assert.Equal(t, 1, stats.Count("INSERT"))
	assert.Equal(t, 3, stats.Count("SELECT"))
	assert.Equal(t, 1, stats.Errors(), "missing rows are not counted as errors")

	stats.Reset()
	assert.Equal(t, 0, stats.Total())
	assert.Equal(t, 0, stats.Count("SELECT"))
}

func TestQueryHookOutput(t *testing.T) {
	db := newSQLiteManager(t).GetDB()
	ctx := context.Background()

	var buf bytes.Buffer
	hook := &QueryHook{Enabled: true, Writer: &buf}
	db.AddQueryHook(hook)

	var n int
	require.NoError(t, db.NewSelect().ColumnExpr("42").Scan(ctx, &n))
	assert.Empty(t, buf.String(), "successful queries are only printed in verbose mode")

	_, err := db.NewSelect().Table("gears").Column("id").Exec(ctx)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "gears")

	buf.Reset()
	hook.Verbose = true
	require.NoError(t, db.NewSelect().ColumnExpr("42").Scan(ctx, &n))
	assert.Contains(t, buf.String(), "SELECT 42")
}

func TestValidateModels(t *testing.T) {
	db := newSQLiteManager(t).GetDB()

	registry := NewEntityRegistry()
	registry.Register(NewModelAdapter((*widget)(nil), 1))
	require.NoError(t, ValidateModels(db, registry.Models()))

	registry.Register(NewModelAdapter((*looseWidget)(nil), 0))
	models := registry.Models()
	require.Len(t, models, 2)
	assert.Equal(t, 0, models[0].Priority())

	err := ValidateModels(db, models)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "looseWidget")
}
