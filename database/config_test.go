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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
connection:
  type: postgres
  host: db.local
  port: 5432
  username: app
  dbname: shop
  max_open_conns: 8
  slow_query_time: 250ms
repository:
  shared_session: true
  log_level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.ConnectionConfig.Type)
	assert.Equal(t, "db.local", cfg.ConnectionConfig.Host)
	assert.Equal(t, 5432, cfg.ConnectionConfig.Port)
	assert.Equal(t, 8, cfg.ConnectionConfig.MaxOpenConns)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectionConfig.SlowQueryTime)
	assert.True(t, cfg.RepositoryConfig.SharedSession)
	assert.Equal(t, "debug", cfg.RepositoryConfig.LogLevel)

	// unset fields keep their defaults
	assert.Equal(t, 10, cfg.ConnectionConfig.MaxIdleConns)
	assert.Equal(t, 10*time.Second, cfg.ConnectionConfig.ConnectTimeout)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "connection: [broken"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestCreateFromConfigEnvOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "mysql")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DB_SLOW_QUERY_TIME", "3")
	t.Setenv("DB_ENABLE_QUERY_LOG", "true")

	cfg := DefaultConnectionConfig()
	cfg.Type = "postgres"
	cfg.Password = "secret"

	factory := NewDatabaseFactory()
	factory.SetLogger(NopLogger{})
	manager, err := factory.CreateFromConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, manager)
	assert.Same(t, manager, factory.GetManager())

	assert.Equal(t, "mysql", cfg.Type)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 3307, cfg.Port)
	assert.Equal(t, "", cfg.Password)
	assert.Equal(t, 3*time.Second, cfg.SlowQueryTime)
	assert.True(t, cfg.EnableQueryLog)
}

func TestCreateFromConfigRejectsUnknownType(t *testing.T) {
	factory := NewDatabaseFactory()
	_, err := factory.CreateFromConfig(nil)
	assert.Error(t, err)

	cfg := DefaultConnectionConfig()
	cfg.Type = "oracle"
	if os.Getenv("DB_TYPE") != "" {
		t.Skip("DB_TYPE is set in the environment")
	}
	_, err = factory.CreateFromConfig(cfg)
	assert.ErrorContains(t, err, "unsupported database type: oracle")

	assert.Error(t, factory.InitializeDatabase(t.Context()))
}
