package db

import (
	"database/sql"
	"time"
)

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    25,               // Maximum number of open connections
		MaxIdleConns:    10,               // Maximum number of idle connections
		ConnMaxLifetime: 1 * time.Hour,    // Maximum lifetime of a connection
		ConnMaxIdleTime: 30 * time.Minute, // Maximum idle time of a connection
	}
}

// apply configures db's pool. Non-positive values keep the defaults.
func (c ConnectionConfig) apply(db *sql.DB) ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.MaxOpenConns > 0 {
		d.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		d.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		d.ConnMaxLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		d.ConnMaxIdleTime = c.ConnMaxIdleTime
	}

	db.SetMaxOpenConns(d.MaxOpenConns)
	db.SetMaxIdleConns(d.MaxIdleConns)
	db.SetConnMaxLifetime(d.ConnMaxLifetime)
	db.SetConnMaxIdleTime(d.ConnMaxIdleTime)
	return d
}
