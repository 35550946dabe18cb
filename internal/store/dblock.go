package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// Lock durations, grounded on the teacher's store/sql_lock_store.go
// mutex: an INSERT-based advisory lock in the db_lock table, refreshed
// on a ticker while held.
const (
	lockTable       = "db_lock"
	minWaitInterval = time.Second
	maxWaitInterval = 5 * time.Minute
	pollInterval    = time.Second
	jitterInterval  = minWaitInterval / 2
	lockTTL         = 15 * time.Second
	refreshInterval = lockTTL / 2
)

// DBLock is a distributed mutex backed by the db_lock table, held by at
// most one Homu process at a time. cmd/homu does not take it: startup
// rehydrates the Model from the Store without any lock.
type DBLock struct {
	key string
	db  *sql.DB

	mu          sync.Mutex
	conn        *sql.Conn
	stopRefresh chan struct{}
	refreshDone chan struct{}
	logger      *zap.Logger
}

// NewDBLock returns a lock named key backed by db. The lock table is
// created if it does not already exist (migrations also create it, this
// covers stores initialized before dblock existed).
func NewDBLock(ctx context.Context, key string, db *sql.DB, logger *zap.Logger) (*DBLock, error) {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id VARCHAR(64) NOT NULL, expire_at BIGINT NOT NULL, PRIMARY KEY (id)) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", lockTable)); err != nil {
		return nil, fmt.Errorf("store: ensure lock table: %w", err)
	}
	return &DBLock{key: key, db: db, logger: logger}, nil
}

// Lock blocks until the named lock is acquired or ctx is canceled.
func (l *DBLock) Lock(ctx context.Context) error {
	conn, err := l.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("store: acquire connection for lock %s: %w", l.key, err)
	}
	l.conn = conn

	var wait time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		ok, err := l.tryLock(ctx)
		if err != nil || !ok {
			wait = nextWaitInterval(wait, err)
			continue
		}
		break
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := l.refresh(ctx); err != nil {
					l.logger.Warn("failed to refresh db lock", zap.String("key", l.key), zap.Error(err))
					return
				}
			case <-stop:
				return
			}
		}
	}()

	l.mu.Lock()
	l.stopRefresh, l.refreshDone = stop, done
	l.mu.Unlock()

	return nil
}

// Unlock releases the lock. It is a programming error to call Unlock
// without a prior successful Lock.
func (l *DBLock) Unlock() error {
	l.mu.Lock()
	if l.stopRefresh == nil {
		l.mu.Unlock()
		panic("store: db lock not held")
	}
	close(l.stopRefresh)
	l.stopRefresh = nil
	<-l.refreshDone
	l.mu.Unlock()

	defer l.conn.Close()

	_, err := l.conn.ExecContext(context.Background(), fmt.Sprintf("DELETE FROM %s WHERE id = ?", lockTable), l.key)
	return err
}

func (l *DBLock) tryLock(ctx context.Context) (bool, error) {
	now := time.Now()
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s (id, expire_at) VALUES (?, ?)", lockTable), l.key, now.Add(lockTTL).Unix()); err != nil {
		var mysqlErr *ms.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			if released := l.releaseIfExpired(ctx, now); released {
				return true, nil
			}
			return false, nil
		}
		return false, fmt.Errorf("store: insert lock row: %w", err)
	}

	return true, tx.Commit()
}

func (l *DBLock) releaseIfExpired(ctx context.Context, now time.Time) bool {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return false
	}
	defer func() { _ = tx.Rollback() }()

	var expireAt int64
	if err := tx.QueryRow(fmt.Sprintf("SELECT expire_at FROM %s WHERE id = ?", lockTable), l.key).Scan(&expireAt); err != nil {
		return false
	}
	if now.Unix() < expireAt {
		return false
	}

	if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET expire_at = ? WHERE id = ?", lockTable), now.Add(lockTTL).Unix(), l.key); err != nil {
		return false
	}
	return tx.Commit() == nil
}

func (l *DBLock) refresh(ctx context.Context) error {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET expire_at = ? WHERE id = ?", lockTable), time.Now().Add(lockTTL).Unix(), l.key); err != nil {
		return err
	}
	return tx.Commit()
}

func nextWaitInterval(last time.Duration, err error) time.Duration {
	next := last
	if next <= 0 {
		next = minWaitInterval
	}
	if err != nil {
		next *= 2
		if next > maxWaitInterval {
			next = maxWaitInterval
		}
	} else {
		next = pollInterval
	}
	next += time.Duration(rand.Int63n(int64(jitterInterval)) - int64(jitterInterval)/2)
	if next < 0 {
		next = pollInterval
	}
	return next
}
