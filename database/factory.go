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
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tomoncle/sqlar/utils"
	"github.com/uptrace/bun"
)

// BaseDatabaseFactory builds the manager for a configuration and prepares
// the database for repositories.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{logger: GetLogger()}
}

// CreateFromConfig applies DB_* environment overrides to cfg and returns an
// unconnected manager for it.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, errors.New("database configuration cannot be empty")
	}
	applyEnv(cfg)
	if _, ok := drivers[normalizeType(cfg.Type)]; !ok {
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, supportedTypes())
	}

	m := NewDatabaseManager(cfg)
	m.SetLogger(f.logger)
	f.manager = m
	return m, nil
}

func supportedTypes() []string {
	types := make([]string, 0, len(drivers))
	for t := range drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// applyEnv overrides cfg with DB_TYPE, DB_HOST, DB_PORT, DB_USERNAME,
// DB_PASSWORD, DB_NAME, DB_SSLMODE, DB_MAX_IDLE_CONNS, DB_MAX_OPEN_CONNS,
// DB_CONN_MAX_LIFETIME, DB_SLOW_QUERY_TIME and DB_ENABLE_QUERY_LOG.
func applyEnv(cfg *ConnectionConfig) {
	for key, field := range map[string]*string{
		"DB_TYPE":     &cfg.Type,
		"DB_HOST":     &cfg.Host,
		"DB_USERNAME": &cfg.Username,
		"DB_NAME":     &cfg.DBName,
		"DB_SSLMODE":  &cfg.SSLMode,
	} {
		*field = utils.EnvDefaultString(key, *field)
	}
	// an empty password is a valid override
	if password, ok := os.LookupEnv("DB_PASSWORD"); ok {
		cfg.Password = password
	}

	cfg.Port = utils.EnvDefaultInt("DB_PORT", cfg.Port)
	cfg.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.ConnMaxLifetime = utils.EnvDefaultDuration("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)
	cfg.SlowQueryTime = utils.EnvDefaultDuration("DB_SLOW_QUERY_TIME", cfg.SlowQueryTime)
	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
}

// InitializeDatabase connects the manager and validates every registered
// entity against the connected dialect.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context) error {
	if f.manager == nil {
		return errors.New("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	entities := RegisteredEntities()
	if err := ValidateModels(f.manager.GetDB(), entities); err != nil {
		return fmt.Errorf("invalid entity mappings: %w", err)
	}
	f.logger.Info("Database initialized", "entities", len(entities))
	return nil
}

func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager { return f.manager }

func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{LastError: "Database manager not initialized", LastCheckTime: time.Now()}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
