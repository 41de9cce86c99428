// Package dbpool owns the live connection pools to user data sources and the
// dialect adapters that abstract away engine-specific SQL (quoting,
// placeholders, pagination, catalog queries, error classes).
//
// All code that needs a *sql.DB for a data source goes through Registry
// instead of calling sql.Open directly. This gives us a single place to:
//   - decipher credentials just in time
//   - enforce connection pool settings
//   - add retry/backoff for the first-open probe
//   - drain pools when a data source config changes
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"datachat/secrets"
)

// Logger is a simple logging function signature.
type Logger func(string)

// PoolOptions configures every pool the registry opens.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ProbeTimeout bounds each ping on first open.
	ProbeTimeout time.Duration
	// ProbeRetries is the attempt count on first open (minimum 1).
	ProbeRetries int
}

// ErrUnreachable wraps the probe failure for a data source that could not be
// reached within the probe budget.
type ErrUnreachable struct {
	DataSourceID string
	Err          error
}

func (e *ErrUnreachable) Error() string {
	return fmt.Sprintf("data source %s unreachable: %v", e.DataSourceID, e.Err)
}

func (e *ErrUnreachable) Unwrap() error { return e.Err }

type pool struct {
	db      *sql.DB
	dialect Dialect
}

// Registry is the process-wide pool registry, one pool per data source id.
// Safe for concurrent callers; concurrent first-opens of the same source
// share a single probe.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*pool
	opts   PoolOptions
	cipher *secrets.Cipher
	logger Logger
	group  singleflight.Group
}

// NewRegistry creates a Registry. cipher deciphers ConnConfig.PasswordCipher
// just in time; logger may be nil.
func NewRegistry(opts PoolOptions, cipher *secrets.Cipher, logger Logger) *Registry {
	if logger == nil {
		logger = func(string) {}
	}
	if opts.ProbeRetries <= 0 {
		opts.ProbeRetries = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Registry{
		pools:  make(map[string]*pool),
		opts:   opts,
		cipher: cipher,
		logger: logger,
	}
}

// Acquire returns the pooled handle and dialect for the data source,
// opening and probing the pool on first use.
func (r *Registry) Acquire(ctx context.Context, id string, cfg ConnConfig) (*sql.DB, Dialect, error) {
	r.mu.RLock()
	p, ok := r.pools[id]
	r.mu.RUnlock()
	if ok {
		return p.db, p.dialect, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		// Another caller may have finished while we queued.
		r.mu.RLock()
		existing, ok := r.pools[id]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		opened, err := r.open(ctx, id, cfg)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.pools[id] = opened
		r.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, nil, err
	}
	p = v.(*pool)
	return p.db, p.dialect, nil
}

// open builds the DSN, opens the handle, applies pool settings, and probes
// with bounded linear backoff.
func (r *Registry) open(ctx context.Context, id string, cfg ConnConfig) (*pool, error) {
	d, err := Lookup(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	password, err := r.decipher(cfg.PasswordCipher)
	if err != nil {
		return nil, fmt.Errorf("dbpool: decipher credentials for %s: %w", id, err)
	}

	db, err := sql.Open(d.DriverName(), d.DSN(cfg, password))
	if err != nil {
		return nil, &ErrUnreachable{DataSourceID: id, Err: err}
	}
	db.SetMaxOpenConns(r.opts.MaxOpenConns)
	db.SetMaxIdleConns(r.opts.MaxIdleConns)
	db.SetConnMaxLifetime(r.opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(r.opts.ConnMaxIdleTime)

	const baseMs = 400
	var lastErr error
	for i := 0; i < r.opts.ProbeRetries; i++ {
		probeCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
		lastErr = db.PingContext(probeCtx)
		cancel()
		if lastErr == nil {
			return &pool{db: db, dialect: d}, nil
		}
		r.logger(fmt.Sprintf("[dbpool] %s probe attempt %d/%d failed: %v", d.Name(), i+1, r.opts.ProbeRetries, lastErr))
		if ctx.Err() != nil {
			break
		}
		if i < r.opts.ProbeRetries-1 {
			time.Sleep(time.Duration(baseMs*(i+1)) * time.Millisecond)
		}
	}
	db.Close()
	return nil, &ErrUnreachable{DataSourceID: id, Err: lastErr}
}

// Test validates credentials with a throwaway connection; no pool is
// registered.
func (r *Registry) Test(ctx context.Context, cfg ConnConfig) error {
	d, err := Lookup(cfg.Dialect)
	if err != nil {
		return err
	}
	password, err := r.decipher(cfg.PasswordCipher)
	if err != nil {
		return err
	}

	db, err := sql.Open(d.DriverName(), d.DSN(cfg, password))
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	probeCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()
	return db.PingContext(probeCtx)
}

// Invalidate drains and discards the pool for a data source. Called on
// config update or delete; the next Acquire re-opens.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	p, ok := r.pools[id]
	if ok {
		delete(r.pools, id)
	}
	r.mu.Unlock()
	if ok {
		p.db.Close()
		r.logger(fmt.Sprintf("[dbpool] invalidated pool for %s", id))
	}
}

// Close drains every pool. Called at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pools {
		p.db.Close()
		delete(r.pools, id)
	}
}

func (r *Registry) decipher(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if r.cipher == nil {
		return "", fmt.Errorf("no cipher configured")
	}
	return r.cipher.Decrypt(stored)
}
