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

//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tomoncle/sqlar/database"
	"github.com/tomoncle/sqlar/mapping"
	"github.com/uptrace/bun"
)

func setupPostgres(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image: "postgres:15",
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.DefaultConnectionConfig()
	cfg.Type = "postgres"
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Username = "testuser"
	cfg.Password = "testpass"
	cfg.DBName = "testdb"
	cfg.SSLMode = "disable"

	manager := database.NewDatabaseManager(cfg)
	require.NoError(t, manager.Connect(ctx))
	t.Cleanup(func() { _ = manager.Disconnect() })

	db := manager.GetDB()
	for _, model := range []any{(*user)(nil), (*grant)(nil)} {
		_, err := db.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}
	return db
}

func TestPostgresRepository(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	users := threeUsers()
	_, err := db.NewInsert().Model(&users).Exec(ctx)
	require.NoError(t, err)
	grants := []*grant{{OrgID: 1, UserID: "a", Role: "owner"}, {OrgID: 2, UserID: "b", Role: "member"}}
	_, err = db.NewInsert().Model(&grants).Exec(ctx)
	require.NoError(t, err)

	repo := MustNew[user, int64](db)

	first, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, first, second)

	found, err := repo.FindAllByID(ctx, []int64{1, 2, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(found))

	first.Name = "countess"
	_, err = repo.Save(ctx, first)
	require.NoError(t, err)
	reloaded, err := MustNew[user, int64](db).FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "countess", reloaded.Name)

	_, err = repo.Save(ctx, &user{ID: 3})
	assert.ErrorIs(t, err, ErrNotFetched)

	require.NoError(t, repo.Delete(ctx, found[1]))
	ok, err := repo.ExistsByID(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	memberships := MustNew[grant, mapping.Tuple](db)
	g, err := memberships.FindByID(ctx, mapping.Tuple{2, "b"})
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "member", g.Role)

	require.NoError(t, repo.DeleteAll(ctx))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
