package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-aside/v1/aside"
	"github.com/mirkobrombin/go-aside/v1/codec"
	"github.com/mirkobrombin/go-aside/v1/config"
	"github.com/mirkobrombin/go-aside/v1/events"
	"github.com/mirkobrombin/go-aside/v1/lock"
	"github.com/mirkobrombin/go-aside/v1/metrics"
	"github.com/mirkobrombin/go-aside/v1/store"
)

// backends owns every connection opened for the configured backends.
type backends struct {
	cfg *config.Config
	log *zap.Logger

	redis   redis.UniversalClient
	nats    *nats.Conn
	closers []func() error

	Store   store.Store
	Locker  lock.Locker
	Metrics *metrics.Collectors
	// Local always receives outcomes; it feeds the HTTP event streams when
	// the configured backend cannot be watched.
	Local     *events.InMemory
	Publisher events.Publisher
	Watcher   events.Watcher
}

func openBackends(cfg *config.Config, log *zap.Logger) (_ *backends, err error) {
	b := &backends{cfg: cfg, log: log, Metrics: metrics.NewCollectors(), Local: events.NewInMemory()}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()
	if b.Store, err = b.openStore(); err != nil {
		return nil, err
	}
	if b.Locker, err = b.openLocker(); err != nil {
		return nil, err
	}
	if err = b.openEvents(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backends) redisClient() redis.UniversalClient {
	if b.redis == nil {
		b.redis = redis.NewUniversalClient(b.cfg.Redis.Options())
		b.closers = append(b.closers, b.redis.Close)
	}
	return b.redis
}

func (b *backends) natsConn() (*nats.Conn, error) {
	if b.nats == nil {
		conn, err := nats.Connect(b.cfg.NATS.URL, nats.Name("aside"))
		if err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", b.cfg.NATS.URL, err)
		}
		b.nats = conn
		b.closers = append(b.closers, func() error { conn.Close(); return nil })
	}
	return b.nats, nil
}

func (b *backends) openStore() (store.Store, error) {
	switch b.cfg.Store.Backend {
	case "redis":
		return store.NewRedis(b.redisClient()), nil
	case "memory":
		s := store.NewInMemory()
		b.closers = append(b.closers, s.Close)
		return s, nil
	case "ristretto":
		s, err := store.NewRistretto(store.WithMaxCost(b.cfg.Store.MaxCost))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		return s, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(b.cfg.Store.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("mysql open: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			b.closers = append(b.closers, sqlDB.Close)
		}
		return store.NewGorm(db, store.WithGormTableName(b.cfg.Store.Table))
	}
	return nil, fmt.Errorf("unknown store backend %q", b.cfg.Store.Backend)
}

func (b *backends) openLocker() (lock.Locker, error) {
	switch b.cfg.Lock.Backend {
	case "redis":
		return lock.NewRedis(b.redisClient()), nil
	case "memory":
		return lock.NewInMemory(), nil
	case "nats":
		conn, err := b.natsConn()
		if err != nil {
			return nil, err
		}
		js, err := conn.JetStream()
		if err != nil {
			return nil, err
		}
		return lock.NewNATS(js, b.cfg.Lock.Bucket, b.cfg.RetryPolicy().Expiry)
	}
	return nil, fmt.Errorf("unknown lock backend %q", b.cfg.Lock.Backend)
}

func (b *backends) openEvents() error {
	b.Publisher, b.Watcher = b.Local, b.Local
	switch b.cfg.Events.Backend {
	case "none", "memory":
		return nil
	case "redis":
		r := events.NewRedis(b.redisClient(), b.log)
		b.Publisher, b.Watcher = r, r
	case "nats":
		conn, err := b.natsConn()
		if err != nil {
			return err
		}
		n := events.NewNATS(conn, b.log)
		b.Publisher, b.Watcher = n, n
	case "kafka":
		k, err := events.NewKafka(b.cfg.Events.KafkaBrokers, b.cfg.Events.KafkaTopic, nil)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		b.closers = append(b.closers, k.Close)
		b.Publisher = events.Fanout{k, b.Local}
	default:
		return fmt.Errorf("unknown events backend %q", b.cfg.Events.Backend)
	}
	return nil
}

// Coordinator builds the lock coordinator from the configured policy.
func (b *backends) Coordinator() *lock.Coordinator {
	return lock.NewCoordinator(b.Locker, b.cfg.RetryPolicy(),
		lock.WithLogger(b.log),
		lock.WithMetrics(b.Metrics),
	)
}

// timestampCache is the cache served by the binary.
func (b *backends) timestampCache(opts ...aside.Option[time.Time]) (*aside.Cache[time.Time], error) {
	c, err := codec.ByName[time.Time](b.cfg.Store.Codec)
	if err != nil {
		return nil, err
	}
	base := []aside.Option[time.Time]{
		aside.WithCodec(c),
		aside.WithLogger[time.Time](b.log),
		aside.WithMetrics[time.Time](b.Metrics),
		aside.WithEvents[time.Time](b.Publisher),
	}
	return aside.New[time.Time](b.Store, b.Coordinator(), append(base, opts...)...), nil
}

// Close closes connections in reverse opening order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
