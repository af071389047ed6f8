package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/pkg/config"
	"github.com/territorial-engagement/backend/pkg/logger"
	"github.com/territorial-engagement/backend/pkg/retry"
	"github.com/territorial-engagement/backend/pkg/utils"
)

// Querier is the read surface every analytical service depends on.
type Querier interface {
	RunTabular(ctx context.Context, sql string, params map[string]interface{}) (*domain.RowSet, error)
	RunSpatial(ctx context.Context, sql string, params map[string]interface{}, geometryColumn string) (*geojson.FeatureCollection, error)
	RunAll(ctx context.Context, queries []Query) ([]*domain.RowSet, error)
}

// Cache is the optional content-addressed result cache.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Query is one member of a RunAll batch.
type Query struct {
	Name   string
	SQL    string
	Params map[string]interface{}
}

type Options struct {
	Driver           string
	DSN              string
	PoolSize         int
	Overflow         int
	StatementTimeout time.Duration
	PrePing          bool
	Recycle          time.Duration
	Workers          int
	Cache            Cache
	CacheTTL         time.Duration
	Retry            retry.Config
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN(),
		PoolSize:         cfg.Pool.Size,
		Overflow:         cfg.Pool.Overflow,
		StatementTimeout: cfg.Pool.StatementTimeout(),
		PrePing:          cfg.Pool.PrePing,
		Recycle:          cfg.Pool.Recycle(),
		Workers:          cfg.Workers.Size,
		CacheTTL:         cfg.Cache.TTL(),
		Retry:            retry.DefaultConfig(),
	}
}

type Store struct {
	db   *sqlx.DB
	opts Options
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = "postgres"
	}

	db, err := sqlx.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, apperr.NewStorageError(apperr.StorageConnection, err)
	}

	s := New(db, opts)

	pingCtx, cancel := context.WithTimeout(ctx, s.opts.StatementTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, classify(pingCtx, err)
	}

	logger.Info("Store adapter initialized",
		zap.String("driver", opts.Driver),
		zap.Int("pool_size", s.opts.PoolSize),
		zap.Int("overflow", s.opts.Overflow),
		zap.Duration("statement_timeout", s.opts.StatementTimeout),
		zap.Bool("cache", s.opts.Cache != nil),
	)

	return s, nil
}

// New wraps an existing handle and applies the pool policy to it.
func New(db *sqlx.DB, opts Options) *Store {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 5
	}
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	opts.Retry.Retryable = func(err error) bool {
		return apperr.IsStorageKind(err, apperr.StorageConnection)
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger.Log
	}

	db.SetMaxOpenConns(opts.PoolSize + opts.Overflow)
	db.SetMaxIdleConns(opts.PoolSize)
	if opts.Recycle > 0 {
		db.SetConnMaxLifetime(opts.Recycle)
	}

	return &Store{db: db, opts: opts}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Workers() int {
	return s.opts.Workers
}

func (s *Store) RunTabular(ctx context.Context, sql string, params map[string]interface{}) (*domain.RowSet, error) {
	return s.run(ctx, "tabular", sql, params)
}

// RunAll executes the batch on a pool bounded by the configured worker
// count. Results are returned in input order; the first failure cancels
// the queries not yet started.
func (s *Store) RunAll(ctx context.Context, queries []Query) ([]*domain.RowSet, error) {
	results := make([]*domain.RowSet, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			rs, err := s.RunTabular(gctx, q.SQL, q.Params)
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", q.Name, err)
			}
			results[i] = rs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) run(ctx context.Context, operation, sql string, params map[string]interface{}) (*domain.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCanceled, err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	cacheKey := ""
	if s.opts.Cache != nil {
		key, err := utils.ContentKey(sql, params)
		if err != nil {
			return nil, apperr.NewStorageError(apperr.StorageQuery, err)
		}
		cacheKey = key

		var cached domain.RowSet
		found, err := s.opts.Cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			logger.Warn("Result cache read failed", zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	start := time.Now()
	rs, err := retry.DoWithResult(ctx, s.opts.Retry, func(attempt int) (*domain.RowSet, error) {
		return s.query(ctx, sql, params)
	})
	metrics.StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		var se *apperr.StorageError
		if errors.As(err, &se) {
			metrics.StorageErrors.WithLabelValues(string(se.Kind)).Inc()
		}
		return nil, err
	}

	if cacheKey != "" {
		if err := s.opts.Cache.Set(ctx, cacheKey, rs, s.opts.CacheTTL); err != nil {
			logger.Warn("Result cache write failed", zap.Error(err))
		}
	}

	return rs, nil
}

// query checks out one connection for the duration of the call. The
// connection goes back to the pool on every return path.
func (s *Store) query(ctx context.Context, sql string, params map[string]interface{}) (*domain.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCanceled, err)
	}

	bound, args, err := sqlx.Named(sql, params)
	if err != nil {
		return nil, apperr.NewStorageError(apperr.StorageQuery, fmt.Errorf("failed to bind parameters: %w", err))
	}
	bound = s.db.Rebind(bound)

	qctx, cancel := context.WithTimeout(ctx, s.opts.StatementTimeout)
	defer cancel()

	conn, err := s.db.Connx(qctx)
	if err != nil {
		return nil, classify(qctx, err)
	}
	defer conn.Close()

	if s.opts.PrePing {
		if err := conn.PingContext(qctx); err != nil {
			return nil, classify(qctx, err)
		}
	}

	rows, err := conn.QueryxContext(qctx, bound, args...)
	if err != nil {
		return nil, classify(qctx, err)
	}
	defer rows.Close()

	rs, err := decodeRows(rows)
	if err != nil {
		return nil, classify(qctx, err)
	}
	return rs, nil
}
