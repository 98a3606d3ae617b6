// Package database provisions the Bun execution handle used by repositories:
// configuration loading, connection management for MySQL, PostgreSQL and
// SQLite, query hooks, logging, error classification and startup validation
// of registered entity mappings.
package database
