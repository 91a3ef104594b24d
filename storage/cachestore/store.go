package cachestore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/pkg/retry"
	"github.com/c360/apicore/pkg/timestamp"
	"github.com/c360/apicore/storage"
)

// TableName is the table holding persistent cache entries.
const TableName = "cache_entries"

// entryRow is one persistent cache entry. Times are unix milliseconds.
type entryRow struct {
	Key       string `gorm:"column:key;primaryKey;size:512"`
	Value     string `gorm:"column:value;type:text;not null"`
	ExpiresAt *int64 `gorm:"column:expires_at;index:idx_cache_entries_expires_at"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime:milli;not null"`
}

func (entryRow) TableName() string {
	return TableName
}

// Store is a storage.Store over a SQL table managed by GORM.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the database selected by cfg.DSN, retrying briefly, and
// creates the cache table if needed.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{driver: cfg.Driver(), logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	var dialector gorm.Dialector
	if s.driver == "postgres" {
		dialector = postgres.Open(cfg.DSN)
	} else {
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := retry.DoWithResult(ctx, retry.Quick(), func() (*gorm.DB, error) {
		return gorm.Open(dialector, &gorm.Config{
			Logger: newGormLogger(s.logger, cfg.SlowQueryThreshold),
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "cachestore", "Open", fmt.Sprintf("connect to %s", s.driver))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WrapFatal(err, "cachestore", "Open", "access connection pool")
	}
	if s.driver == "sqlite" {
		// One connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY on concurrent writers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s.db = db
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s.logger.Info("Cache store opened", "driver", s.driver, "table", TableName)
	return s, nil
}

// New wraps an existing GORM handle and creates the cache table if needed.
func New(ctx context.Context, db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "cachestore", "New", "nil database handle")
	}
	s := &Store{db: db, driver: db.Dialector.Name(), logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&entryRow{}); err != nil {
		return errors.WrapFatal(err, "cachestore", "migrate", fmt.Sprintf("create table %s", TableName))
	}
	return nil
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) nowMillis() int64 {
	return timestamp.ToUnixMs(s.now())
}

// Put upserts data at key. A zero expiresAt stores the entry without expiry.
func (s *Store) Put(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	row := entryRow{
		Key:       key,
		Value:     string(data),
		ExpiresAt: timestamp.Nullable(expiresAt),
		CreatedAt: s.nowMillis(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "created_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.WrapTransient(err, "cachestore", "Put", fmt.Sprintf("upsert %s", key))
	}
	return nil
}

// Get returns the live entry at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var row entryRow
	err := s.db.WithContext(ctx).
		Where(`"key" = ?`, key).
		Where("(expires_at IS NULL OR expires_at > ?)", s.nowMillis()).
		Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "cachestore", "Get", fmt.Sprintf("lookup %s", key))
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "cachestore", "Get", fmt.Sprintf("select %s", key))
	}
	return []byte(row.Value), nil
}

// List returns live keys with the given prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&entryRow{}).
		Where("(expires_at IS NULL OR expires_at > ?)", s.nowMillis())
	if prefix != "" {
		q = q.Where(`"key" LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	}

	var keys []string
	if err := q.Order(`"key"`).Pluck("key", &keys).Error; err != nil {
		return nil, errors.WrapTransient(err, "cachestore", "List", fmt.Sprintf("list prefix %q", prefix))
	}

	// SQLite LIKE ignores case for ASCII, so confirm the prefix exactly.
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where(`"key" = ?`, key).Delete(&entryRow{}).Error; err != nil {
		return errors.WrapTransient(err, "cachestore", "Delete", fmt.Sprintf("delete %s", key))
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entryRow{})
	if res.Error != nil {
		return 0, errors.WrapTransient(res.Error, "cachestore", "Clear", "delete all entries")
	}
	return res.RowsAffected, nil
}

// PurgeExpired deletes entries whose expiry is at or before now.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.nowMillis()).
		Delete(&entryRow{})
	if res.Error != nil {
		return 0, errors.WrapTransient(res.Error, "cachestore", "PurgeExpired", "delete expired entries")
	}
	if res.RowsAffected > 0 {
		s.logger.Debug("Purged expired cache entries", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// Count returns the number of rows, expired or not.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entryRow{}).Count(&n).Error; err != nil {
		return 0, errors.WrapTransient(err, "cachestore", "Count", "count entries")
	}
	return n, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WrapFatal(err, "cachestore", "Close", "access connection pool")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.WrapTransient(err, "cachestore", "Close", "close connection pool")
	}
	return nil
}
