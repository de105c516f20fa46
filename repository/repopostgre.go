package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

var (
	ErrInsertFailed     = errors.New("insert failed")
	ErrUpdateFailed     = errors.New("update failed")
	ErrSelectFailed     = errors.New("select failed")
	ErrScanFailed       = errors.New("scan failed")
	ErrNotFound         = errors.New("entity not found")
	ErrStatusConflict   = errors.New("transaction is not in the expected status")
	ErrDuplicatePayment = errors.New("payment unit already recorded")
	ErrMigrationFailed  = errors.New("migration failed")
	ErrLockFailed       = errors.New("lock failed")
)

// DBConfig contains configuration for the database.
type DBConfig struct {
	ConnStr      string `yaml:"conn_str"`      // ConnStr is the connection string to the database.
	DatabaseName string `yaml:"database_name"` // DatabaseName is the name of the database.
	IsSSL        bool   `yaml:"is_ssl"`        // IsSSL is the flag that indicates if the connection should be encrypted.
}

// DataSourceName returns the lib/pq data source name described by the config.
func (cfg DBConfig) DataSourceName() string {
	sslMode := "sslmode=disable"
	if cfg.IsSSL {
		sslMode = "sslmode=require"
	}
	return fmt.Sprintf("%s/%s?%s", cfg.ConnStr, cfg.DatabaseName, sslMode)
}

// DataBase provides database access for read and write of transactions and receiving addresses.
type DataBase struct {
	inner *sql.DB
}

// Connect creates new connection to the repository and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg DBConfig) (*DataBase, error) {
	db, err := sql.Open("postgres", cfg.DataSourceName())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &DataBase{inner: db}, nil
}

// Disconnect disconnects user from database.
func (db *DataBase) Disconnect(_ context.Context) error {
	return db.inner.Close()
}

// Ping checks if the connection to the database is still alive.
func (db *DataBase) Ping(ctx context.Context) error {
	return db.inner.PingContext(ctx)
}
