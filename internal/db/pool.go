package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"horse.fit/paperfeed/internal/clock"
	"horse.fit/paperfeed/internal/config"
)

var ErrNoRows = sql.ErrNoRows

// Row wraps a single-row raw query result.
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	return r != nil && r.rows != nil && r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r == nil || r.rows == nil {
		return
	}
	_ = r.rows.Close()
}

// querier is satisfied by both the pool and an open transaction so query
// helpers can run in either.
type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

type gormConn struct {
	db *gorm.DB
}

func (c gormConn) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return &Row{row: c.db.WithContext(ctx).Raw(query, args...).Row()}
}

func (c gormConn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := c.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (c gormConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := c.db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

// Pool owns the GORM handle and the underlying connection pool.
type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: clock.UTC,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}

	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = 8
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}
	return pool, nil
}

func (p *Pool) conn() (gormConn, error) {
	if p == nil || p.gdb == nil {
		return gormConn{}, fmt.Errorf("database pool is not initialized")
	}
	return gormConn{db: p.gdb}, nil
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *Row {
	conn, err := p.conn()
	if err != nil {
		return &Row{}
	}
	return conn.QueryRow(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	conn, err := p.conn()
	if err != nil {
		return nil, err
	}
	return conn.Query(ctx, query, args...)
}

// Exec runs a statement and returns the affected row count.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := p.conn()
	if err != nil {
		return 0, err
	}
	return conn.Exec(ctx, query, args...)
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (p *Pool) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.gdb.WithContext(ctx).Transaction(fn)
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound)
}

func resolveGormLogLevel(appLogLevel, environment string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return gormlogger.Info
	case "warn", "warning", "info", "":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	case "silent", "disabled":
		return gormlogger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return gormlogger.Warn
		}
		return gormlogger.Error
	}
}
