// Package ledger records which paths have been materialized, independent of
// cache expiry, in a local bbolt database.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrNotFound is returned when a path has never been recorded.
var ErrNotFound = errors.New("ledger: not found")

var bucketVisited = []byte("visited") // normalized path -> protobuf Timestamp of first materialization

// Ledger is a durable set of visited paths.
type Ledger struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger for the ledger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithNoSync disables fsync after each write. Only suitable for tests.
func WithNoSync(noSync bool) Option {
	return func(l *Ledger) {
		l.noSync = noSync
	}
}

// Open opens or creates the ledger database at path.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  l.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVisited)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger bucket: %w", err)
	}

	l.db = db
	l.logger.Debug("opened ledger", "path", path, "noSync", l.noSync)
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	l.logger.Debug("closing ledger")
	return l.db.Close()
}

// MarkVisited records path as materialized. The first recorded time is kept.
func (l *Ledger) MarkVisited(_ context.Context, path string) error {
	data, err := proto.Marshal(timestamppb.New(l.now()))
	if err != nil {
		return fmt.Errorf("marshaling visit time: %w", err)
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVisited)
		if bucket.Get([]byte(path)) != nil {
			return nil
		}
		return bucket.Put([]byte(path), data)
	})
}

// Visited reports whether path has been recorded.
func (l *Ledger) Visited(ctx context.Context, path string) (bool, error) {
	_, err := l.VisitedAt(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// VisitedAt returns when path was first recorded.
func (l *Ledger) VisitedAt(_ context.Context, path string) (time.Time, error) {
	var ts timestamppb.Timestamp
	err := l.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketVisited).Get([]byte(path))
		if val == nil {
			return ErrNotFound
		}
		if err := proto.Unmarshal(val, &ts); err != nil {
			return fmt.Errorf("unmarshaling visit time: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return ts.AsTime(), nil
}

// Count returns the number of recorded paths.
func (l *Ledger) Count(_ context.Context) (int, error) {
	var n int
	err := l.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketVisited).Stats().KeyN
		return nil
	})
	return n, err
}
