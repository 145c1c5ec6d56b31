package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	asideerrors "github.com/mirkobrombin/go-aside/v1/errors"
)

const (
	defaultGormTableName = "aside_entries"
	defaultGormOpTimeout = 5 * time.Second
)

// gormEntry is the row layout. ExpiresAt is unix nanoseconds, zero meaning
// no expiry.
type gormEntry struct {
	Key       string `gorm:"primaryKey;column:key_id"`
	Payload   []byte `gorm:"column:payload"`
	ExpiresAt int64  `gorm:"column:expires_at;index"`
}

// Gorm implements Store on a relational database through GORM.
type Gorm struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
	now       func() time.Time
}

// GormOption configures a Gorm store.
type GormOption func(*Gorm)

// WithGormTableName sets the table holding entries.
func WithGormTableName(name string) GormOption {
	return func(g *Gorm) {
		if name != "" {
			g.tableName = name
		}
	}
}

// WithGormTimeout sets the per-operation timeout.
func WithGormTimeout(d time.Duration) GormOption {
	return func(g *Gorm) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGorm returns a Store on db, creating the entries table when missing.
func NewGorm(db *gorm.DB, opts ...GormOption) (*Gorm, error) {
	g := &Gorm{
		db:        db,
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if !db.Migrator().HasTable(g.tableName) {
		if err := db.Table(g.tableName).AutoMigrate(&gormEntry{}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Get implements Store.Get. Expired rows are reported as a miss and left for
// DeleteExpired.
func (g *Gorm) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, mapGormErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var e gormEntry
	err := g.db.WithContext(cctx).Table(g.tableName).First(&e, "key_id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapGormErr(err)
	}
	if e.ExpiresAt != 0 && e.ExpiresAt <= g.now().UnixNano() {
		return nil, false, nil
	}
	if len(e.Payload) == 0 {
		return nil, false, nil
	}
	return e.Payload, true, nil
}

// Set implements Store.Set.
func (g *Gorm) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return mapGormErr(err)
	}
	e := gormEntry{Key: key, Payload: value}
	if ttl > 0 {
		e.ExpiresAt = g.now().Add(ttl).UnixNano()
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.db.WithContext(cctx).Table(g.tableName).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at"}),
	}).Create(&e).Error
	return mapGormErr(err)
}

// DeleteExpired removes rows whose expiry has passed and returns how many
// were dropped.
func (g *Gorm) DeleteExpired(ctx context.Context) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res := g.db.WithContext(cctx).Table(g.tableName).
		Where("expires_at <> 0 AND expires_at <= ?", g.now().UnixNano()).
		Delete(&gormEntry{})
	return res.RowsAffected, mapGormErr(res.Error)
}

// Close implements Store.Close. The *gorm.DB stays owned by the caller.
func (g *Gorm) Close() error { return nil }

func mapGormErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return asideerrors.ErrTimeout
	}
	return err
}
