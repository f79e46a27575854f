package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// OpenSQLite opens a SQLite database file for single-node deployments. The handle is limited to
// one connection so transactions serialize instead of failing with SQLITE_BUSY.
func OpenSQLite(path string, logger *zap.Logger) (*sql.DB, error) {
	if path == "" {
		path = "rosterleague.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if logger != nil {
		logger.Info("SQLite database opened", zap.String("path", path))
	}
	return db, nil
}
