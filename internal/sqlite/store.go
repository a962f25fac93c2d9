// Package sqlite is the persistent catalog store. Disc records, bags, and
// sync state live in one WAL-mode SQLite database under the data
// directory; the schema is versioned with golang-migrate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// DBFileName is the database file inside the data directory.
const DBFileName = "flightbag.db"

// Options configure Open.
type Options struct {
	DataDir string
	Logger  *zap.Logger

	// Now overrides the clock; tests use it to pin StoredAt.
	Now func() time.Time
}

// Store is the catalog store. It is safe for concurrent use. Disc writes
// are serialized; bag mutations are serialized per bag.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	// writeMu serializes disc writes and guards lastStored.
	writeMu    sync.Mutex
	lastStored int64

	bagLocks sync.Map // bag id -> *sync.Mutex

	degraded atomic.Pointer[error]
	version  uint
}

// Open creates the data directory if needed, opens the database, and
// applies pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %w", types.ErrStorage, err)
	}

	// DSN notes:
	// - busy_timeout makes concurrent writers wait instead of failing
	// - WAL lets readers proceed while a batch commits
	// - _txlock=immediate takes the write lock at BEGIN
	dbPath := filepath.Join(dataDir, DBFileName)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"+
		"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate", filepath.Clean(dbPath))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", types.ErrStorage, dbPath, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", types.ErrStorage, dbPath, err)
	}

	version, err := migrateUp(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrStorage, err)
	}

	s := &Store{
		db:      db,
		logger:  opts.Logger,
		now:     opts.Now,
		version: version,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(stored_at), 0) FROM discs`).Scan(&s.lastStored); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: read clock: %w", types.ErrStorage, err)
	}

	s.logger.Debug("catalog store opened",
		zap.String("path", dbPath),
		zap.Uint("schema_version", version))
	return s, nil
}

// Close releases the database. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("%w: close: %w", types.ErrStorage, err)
	}
	return nil
}

// SchemaVersion returns the migration version applied at Open.
func (s *Store) SchemaVersion() uint { return s.version }

// Degraded returns the last storage failure, or nil once a later write
// succeeds.
func (s *Store) Degraded() error {
	if p := s.degraded.Load(); p != nil {
		return *p
	}
	return nil
}

// conn returns the database handle. The caller must hold s.mu for reading.
func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, types.ErrStoreClosed
	}
	return s.db, nil
}

// fail wraps an I/O failure in ErrStorage and records it. Domain errors
// and cancellation pass through unchanged.
func (s *Store) fail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isDomainError(err):
		return err
	}
	wrapped := fmt.Errorf("%s: %w: %w", op, types.ErrStorage, err)
	s.degraded.Store(&wrapped)
	s.logger.Warn("catalog store degraded", zap.String("op", op), zap.Error(err))
	return wrapped
}

// recovered clears the degraded flag after a successful write.
func (s *Store) recovered() {
	s.degraded.Store(nil)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		types.ErrNotFound,
		types.ErrStaleWrite,
		types.ErrStoreClosed,
		types.ErrInvalidID,
		types.ErrInvalidName,
		types.ErrDuplicateName,
		types.ErrInvalidData,
		types.ErrEntryNotInBag,
		types.ErrInvalidOrientation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// tick returns a StoredAt value strictly greater than every earlier one.
// The caller must hold s.writeMu.
func (s *Store) tick() int64 {
	n := s.now().UnixNano()
	if n <= s.lastStored {
		n = s.lastStored + 1
	}
	s.lastStored = n
	return n
}

// bagLock returns the mutex serializing mutations of one bag.
func (s *Store) bagLock(bagID string) *sync.Mutex {
	m, _ := s.bagLocks.LoadOrStore(bagID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
