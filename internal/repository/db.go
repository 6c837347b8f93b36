package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

var ErrNoDSN = errors.New("database dsn is empty")

type DBTX interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

var _ DBTX = (*sqlx.DB)(nil)

type Store struct {
	db       *sqlx.DB
	BlogRepo *BlogRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:       db,
		BlogRepo: NewBlogRepository(db),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Open は otelsql でラップした MySQL 接続を開く。接続確認は行わない。
func Open(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := otelsql.Open("mysql", cfg.FormatDSN(),
		otelsql.WithAttributes(attribute.String("db.system", "mysql")),
	)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return sqlx.NewDb(db, "mysql"), nil
}

// Connect は Open したうえで PING を行う
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
