package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DB wraps the gorm handle and the pooled connection underneath it.
type DB struct {
	Gorm *gorm.DB
	sql  *sql.DB
}

// NewDB opens a database for driver "postgres" (pgx) or "sqlite".
func NewDB(driver, dsn string, slow time.Duration) (*DB, error) {
	cfg := &gorm.Config{
		Logger:         NewGormLogger(slow),
		TranslateError: true,
	}
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
		dialector = postgres.New(postgres.Config{Conn: conn})
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}
	conn, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite serializes writers; one connection keeps :memory: databases shared
		conn.SetMaxOpenConns(1)
	}
	return &DB{Gorm: gdb, sql: conn}, conn.PingContext(context.Background())
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.sql == nil {
		return false
	}
	return d.sql.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}
