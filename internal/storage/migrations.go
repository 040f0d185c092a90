package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create readings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS readings (
					id TEXT PRIMARY KEY,
					sensor_serial TEXT NOT NULL,
					value REAL NOT NULL,
					rate REAL NOT NULL DEFAULT 0,
					delta REAL,
					time DATETIME NOT NULL,
					received_at DATETIME NOT NULL,
					alarm TEXT NOT NULL DEFAULT 'NONE',
					payload BLOB
				);

				CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(time);
				CREATE INDEX IF NOT EXISTS idx_readings_sensor ON readings(sensor_serial);
				CREATE INDEX IF NOT EXISTS idx_readings_alarm ON readings(alarm);
			`,
		},
		{
			Version:     "002",
			Description: "Create alarm_history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS alarm_history (
					id TEXT PRIMARY KEY,
					notification_id INTEGER NOT NULL,
					alarm_type TEXT NOT NULL,
					action TEXT NOT NULL,
					for_test BOOLEAN NOT NULL DEFAULT FALSE,
					glucose REAL,
					error TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_alarm_history_created_at ON alarm_history(created_at);
				CREATE INDEX IF NOT EXISTS idx_alarm_history_type ON alarm_history(alarm_type);
			`,
		},
		{
			Version:     "003",
			Description: "Create preferences table",
			SQL: `
				CREATE TABLE IF NOT EXISTS preferences (
					namespace TEXT NOT NULL,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (namespace, key)
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create endpoints table",
			SQL: `
				CREATE TABLE IF NOT EXISTS endpoints (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					transport TEXT NOT NULL,
					capability TEXT NOT NULL,
					last_seen DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_endpoints_last_seen ON endpoints(last_seen);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create readings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS readings (
					id TEXT PRIMARY KEY,
					sensor_serial TEXT NOT NULL,
					value DOUBLE PRECISION NOT NULL,
					rate DOUBLE PRECISION NOT NULL DEFAULT 0,
					delta DOUBLE PRECISION,
					time TIMESTAMP WITH TIME ZONE NOT NULL,
					received_at TIMESTAMP WITH TIME ZONE NOT NULL,
					alarm TEXT NOT NULL DEFAULT 'NONE',
					payload BYTEA
				);

				CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(time);
				CREATE INDEX IF NOT EXISTS idx_readings_sensor ON readings(sensor_serial);
				CREATE INDEX IF NOT EXISTS idx_readings_alarm ON readings(alarm);
			`,
		},
		{
			Version:     "002",
			Description: "Create alarm_history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS alarm_history (
					id TEXT PRIMARY KEY,
					notification_id INTEGER NOT NULL,
					alarm_type TEXT NOT NULL,
					action TEXT NOT NULL,
					for_test BOOLEAN NOT NULL DEFAULT FALSE,
					glucose DOUBLE PRECISION,
					error TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_alarm_history_created_at ON alarm_history(created_at);
				CREATE INDEX IF NOT EXISTS idx_alarm_history_type ON alarm_history(alarm_type);
			`,
		},
		{
			Version:     "003",
			Description: "Create preferences table",
			SQL: `
				CREATE TABLE IF NOT EXISTS preferences (
					namespace TEXT NOT NULL,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					PRIMARY KEY (namespace, key)
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create endpoints table",
			SQL: `
				CREATE TABLE IF NOT EXISTS endpoints (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					transport TEXT NOT NULL,
					capability TEXT NOT NULL,
					last_seen TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_endpoints_last_seen ON endpoints(last_seen);
			`,
		},
	}
}
