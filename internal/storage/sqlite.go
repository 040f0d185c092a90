// File: internal/storage/sqlite.go
package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// sqlitePragmas are passed in the DSN so the driver applies them to every
// pooled connection, not only the first one.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	return b.String()
}

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	*sqlStore
	config *StorageConfig
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStore: &sqlStore{
			logger:     utils.GetLogger(),
			migrations: GetSQLiteMigrations(),
			positional: true,
		},
		config: config,
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.config.ConnectionString))
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// GetStats returns storage statistics including the database file size
func (s *SQLiteStorage) GetStats() (*StorageStats, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	stats, err := s.stats()
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&stats.DatabaseSize); err != nil {
		stats.DatabaseSize = 0
	}
	return stats, nil
}

func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "SQLite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"connection_string": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}

// Vacuum optimizes the database
func (s *SQLiteStorage) Vacuum() error {
	if err := s.connected(); err != nil {
		return err
	}

	s.logger.Info("Starting database vacuum")

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to vacuum database", err)
	}

	s.logger.Info("Database vacuum completed")
	return nil
}
