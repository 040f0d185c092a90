package storage

import (
	"database/sql"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	*sqlStore
	config *StorageConfig
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStore: &sqlStore{
			logger:     utils.GetLogger(),
			migrations: GetPostgresMigrations(),
		},
		config: config,
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	p.logger.WithField("connection", redactDSN(p.config.ConnectionString)).Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// GetStats returns storage statistics including the database size
func (p *PostgreSQLStorage) GetStats() (*StorageStats, error) {
	if err := p.connected(); err != nil {
		return nil, err
	}

	stats, err := p.stats()
	if err != nil {
		return nil, err
	}

	if err := p.db.QueryRow("SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize); err != nil {
		stats.DatabaseSize = 0
	}
	return stats, nil
}

func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "PostgreSQL",
		Healthy:     p.Ping() == nil,
		Details:     map[string]string{"connection_string": redactDSN(p.config.ConnectionString)},
		LastPing:    time.Now(),
	}
}

// Vacuum reclaims space and refreshes planner statistics
func (p *PostgreSQLStorage) Vacuum() error {
	if err := p.connected(); err != nil {
		return err
	}

	if _, err := p.db.Exec("VACUUM ANALYZE"); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to vacuum database", err)
	}
	return nil
}

// redactDSN hides the password of URL style connection strings
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
