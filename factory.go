package dbconnector

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewConnector opens the KPI warehouse named by cfg.Type. The connection is
// lazy; callers check it with TestConnection.
func NewConnector(cfg ConnectionConfig) (DbConnector, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, errors.New("kpi source type is required")
	}
	switch strings.ToLower(cfg.Type) {
	case "mysql":
		return newMySQLConnector(cfg)
	case "postgres", "postgresql":
		return newPostgresConnector(cfg)
	case "mssql", "sqlserver":
		return newMSSQLConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported kpi source type %q", cfg.Type)
	}
}

// openDatabase sizes the pool for one evaluation at a time plus on-demand
// statistics and test calls.
func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
