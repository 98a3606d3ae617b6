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
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

// MemoryDBName selects a private in-memory SQLite database.
const MemoryDBName = ":memory:"

var errNotConnected = errors.New("database not connected")

// driver knows how to open one kind of database.
type driver struct {
	name    string
	dsn     func(cfg *ConnectionConfig) string
	dialect func() schema.Dialect
}

var drivers = map[string]driver{
	"mysql":    {name: "mysql", dsn: mysqlDSN, dialect: func() schema.Dialect { return mysqldialect.New() }},
	"postgres": {name: "postgres", dsn: postgresDSN, dialect: func() schema.Dialect { return pgdialect.New() }},
	"sqlite":   {name: sqliteshim.ShimName, dsn: sqliteDSN, dialect: func() schema.Dialect { return sqlitedialect.New() }},
}

// normalizeType maps accepted aliases to a key of drivers.
func normalizeType(typ string) string {
	switch t := strings.ToLower(strings.TrimSpace(typ)); t {
	case "postgresql", "pg":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	default:
		return t
	}
}

func mysqlDSN(cfg *ConnectionConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Timeout = cfg.ConnectTimeout
	mc.ReadTimeout = cfg.ReadTimeout
	mc.WriteTimeout = cfg.WriteTimeout
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func postgresDSN(cfg *ConnectionConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func sqliteDSN(cfg *ConnectionConfig) string {
	switch {
	case isMemory(cfg):
		// named so that every pooled connection sees the same database
		return fmt.Sprintf("file:sqlar_%s?mode=memory&cache=shared", uuid.NewString())
	case strings.HasPrefix(cfg.DBName, "file:"):
		return cfg.DBName
	default:
		return cfg.DBName + ".db"
	}
}

func isMemory(cfg *ConnectionConfig) bool {
	return cfg.DBName == "" || cfg.DBName == MemoryDBName
}

// manager owns one *bun.DB built from a ConnectionConfig.
type manager struct {
	mu        sync.RWMutex
	config    *ConnectionConfig
	db        *bun.DB
	stats     *QueryStats
	logger    Logger
	lastError error
}

// NewDatabaseManager returns an unconnected manager for config. A nil config
// uses DefaultConnectionConfig.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &manager{
		config: config,
		stats:  NewQueryStats(),
		logger: GetLogger(),
	}
}

func (m *manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return nil
	}

	db, err := m.open()
	if err != nil {
		m.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	timeout := m.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		m.lastError = err
		return fmt.Errorf("database connection test failed: %w", err)
	}

	m.db = db
	m.lastError = nil
	m.logger.Info("Database connected", "type", m.config.Type, "host", m.config.Host, "dbname", m.config.DBName)
	return nil
}

func (m *manager) open() (*bun.DB, error) {
	drv, ok := drivers[normalizeType(m.config.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", m.config.Type)
	}
	sqlDB, err := sql.Open(drv.name, drv.dsn(m.config))
	if err != nil {
		return nil, err
	}

	maxOpen, maxIdle, lifetime := m.config.MaxOpenConns, m.config.MaxIdleConns, m.config.ConnMaxLifetime
	if drv.name == sqliteshim.ShimName && isMemory(m.config) {
		// the database disappears with its last connection
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	db := bun.NewDB(sqlDB, drv.dialect())
	db.AddQueryHook(m.stats)
	if m.config.EnableQueryLog {
		db.AddQueryHook(NewQueryHook())
	} else {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithEnabled(false),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if m.config.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{slowTime: m.config.SlowQueryTime, logger: m.logger})
	}
	return db, nil
}

func (m *manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		m.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	m.logger.Info("Database connection closed")
	return nil
}

func (m *manager) Reconnect(ctx context.Context) error {
	m.logger.Info("Reconnecting to the database")
	if err := m.Disconnect(); err != nil {
		m.logger.Warn("Error disconnecting existing connection", "error", err)
	}
	return m.Connect(ctx)
}

func (m *manager) Ping(ctx context.Context) error {
	db := m.GetDB()
	if db == nil {
		return errNotConnected
	}
	return db.PingContext(ctx)
}

func (m *manager) GetDB() *bun.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

func (m *manager) GetSQLDB() *sql.DB {
	if db := m.GetDB(); db != nil {
		return db.DB
	}
	return nil
}

func (m *manager) QueryStats() *QueryStats { return m.stats }

func (m *manager) HealthCheck(ctx context.Context) *HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := &HealthStatus{LastCheckTime: time.Now()}
	if m.db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := m.db.PingContext(pingCtx)
	status.ResponseTime = time.Since(status.LastCheckTime)
	m.lastError = err
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	s := m.db.DB.Stats()
	status.ActiveConns = s.InUse
	status.IdleConns = s.Idle
	status.MaxOpenConns = s.MaxOpenConnections
	return status
}

func (m *manager) GetStats() *DBStats {
	sqlDB := m.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}
	s := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns: s.MaxOpenConnections,
		OpenConns:    s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

func (m *manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}
