// MySQL-backed user store for the login/register forms
package sqlpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int
}

// Store verifies and registers users against the `user` table. Passwords
// are compared as stored, in the clear, matching the deployed schema.
type Store struct {
	db   *sql.DB
	pool *Pool[*sql.Conn]
	log  *zap.Logger
}

// Open dials MySQL and pins cfg.PoolSize dedicated connections into the
// pool, so concurrency is bounded by the pool rather than by database/sql
// internals.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.DBName

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)

	conns := make([]*sql.Conn, 0, cfg.PoolSize)
	for range cfg.PoolSize {
		conn, err := db.Conn(ctx)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			_ = db.Close()
			return nil, fmt.Errorf("sql conn: %w", err)
		}
		conns = append(conns, conn)
	}

	log.Info("sql pool ready",
		zap.String("addr", mc.Addr),
		zap.String("db", cfg.DBName),
		zap.Int("size", cfg.PoolSize))
	return &Store{db: db, pool: NewPool(conns), log: log}, nil
}

// VerifyUser checks a login. Any driver error counts as a failed login.
func (s *Store) VerifyUser(ctx context.Context, name, pwd string) bool {
	if name == "" || pwd == "" {
		return false
	}
	lease, err := s.pool.Get(ctx)
	if err != nil {
		s.log.Warn("sql pool get", zap.Error(err))
		return false
	}
	defer lease.Release()

	var stored string
	row := lease.Conn.QueryRowContext(ctx,
		"SELECT password FROM user WHERE username=? LIMIT 1", name)
	if err := row.Scan(&stored); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("sql select", zap.String("user", name), zap.Error(err))
		}
		return false
	}
	return stored == pwd
}

// RegisterUser creates a user unless the name is taken. Any driver error
// counts as a failed registration.
func (s *Store) RegisterUser(ctx context.Context, name, pwd string) bool {
	if name == "" || pwd == "" {
		return false
	}
	lease, err := s.pool.Get(ctx)
	if err != nil {
		s.log.Warn("sql pool get", zap.Error(err))
		return false
	}
	defer lease.Release()

	var existing string
	row := lease.Conn.QueryRowContext(ctx,
		"SELECT username FROM user WHERE username=? LIMIT 1", name)
	err = row.Scan(&existing)
	if err == nil {
		return false
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.log.Warn("sql select", zap.String("user", name), zap.Error(err))
		return false
	}

	if _, err := lease.Conn.ExecContext(ctx,
		"INSERT INTO user(username, password) VALUES(?, ?)", name, pwd); err != nil {
		s.log.Warn("sql insert", zap.String("user", name), zap.Error(err))
		return false
	}
	return true
}

// Close returns every pooled connection and closes the database.
func (s *Store) Close() error {
	var err error
	for _, c := range s.pool.Drain() {
		err = multierr.Append(err, c.Close())
	}
	return multierr.Append(err, s.db.Close())
}
