package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"

	"binpastes/pkg/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// sqliteDriver is go-sqlite3 with ulower() registered on every connection.
// SQLite's own lower() only folds ASCII.
const sqliteDriver = "sqlite3_binpastes"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ulower", foldCase, true)
		},
	})
}

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
	latencyJitter   = 20 * time.Millisecond
	reapBatchSize   = 100
	maxReapBatches  = 10000
)

type SQLiteOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
	// DeleteMinLatency pads DeleteOwned so hits and misses take the same time.
	DeleteMinLatency time.Duration
}

var DefaultSQLiteOptions = SQLiteOptions{
	MaxOpenConns:     100,
	MaxIdleConns:     10,
	QueryTimeout:     5 * time.Second,
	DeleteMinLatency: 50 * time.Millisecond,
}

type SQLite struct {
	db               *sql.DB
	failures         int32
	circuitState     int32
	circuitOpened    int64
	queryTimeout     time.Duration
	deleteMinLatency time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithOptions(path, DefaultSQLiteOptions)
}

func NewSQLiteWithOptions(path string, opts SQLiteOptions) (*SQLite, error) {
	db, err := sql.Open(sqliteDriver, withPragmas(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	if path == ":memory:" {
		opts.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultSQLiteOptions.QueryTimeout
	}
	s := &SQLite{
		db:               db,
		queryTimeout:     opts.QueryTimeout,
		deleteMinLatency: opts.DeleteMinLatency,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// withPragmas sets per-connection pragmas through the DSN so every pooled
// connection gets them, not just the first one.
func withPragmas(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL"
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		exposure TEXT NOT NULL,
		is_encrypted INTEGER NOT NULL DEFAULT 0,
		date_created INTEGER NOT NULL,
		date_of_expiry INTEGER,
		remote_address TEXT NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expiry ON pastes(date_of_expiry);
	CREATE INDEX IF NOT EXISTS idx_pastes_listing ON pastes(exposure, date_created DESC);
	`
	_, err := s.db.Exec(query)
	return err
}
func padLatency(start time.Time, min time.Duration) {
	if min <= 0 {
		return
	}
	var jitter int64
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		jitter = int64(binary.BigEndian.Uint64(b[:]) % uint64(latencyJitter))
	}
	if wait := min + time.Duration(jitter) - time.Since(start); wait > 0 {
		time.Sleep(wait)
	}
}

const pasteColumns = `id, title, content, exposure, is_encrypted, date_created, date_of_expiry, remote_address, consumed`

// eligibleClause matches pastes that may be listed or searched at ?.
const eligibleClause = `exposure = 'PUBLIC' AND consumed = 0 AND (date_of_expiry IS NULL OR date_of_expiry > ?)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaste(row rowScanner) (*domain.Paste, error) {
	var (
		p        domain.Paste
		exposure string
		created  int64
		expiry   sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &exposure, &p.IsEncrypted, &created, &expiry, &p.RemoteAddress, &p.Consumed); err != nil {
		return nil, err
	}
	p.Exposure = domain.Exposure(exposure)
	p.DateCreated = time.Unix(0, created).UTC()
	if expiry.Valid {
		t := time.Unix(0, expiry.Int64).UTC()
		p.DateOfExpiry = &t
	}
	return &p, nil
}
func (s *SQLite) Create(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var expiry sql.NullInt64
	if p.DateOfExpiry != nil {
		expiry = sql.NullInt64{Int64: p.DateOfExpiry.UnixNano(), Valid: true}
	}
	q := `INSERT INTO pastes (` + pasteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Title, p.Content, string(p.Exposure), p.IsEncrypted, p.DateCreated.UnixNano(), expiry, p.RemoteAddress, p.Consumed,
	)
	s.recordError(err)
	return errors.Wrap(err, "db create")
}
func (s *SQLite) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT ` + pasteColumns + ` FROM pastes WHERE id = ?`
	p, err := scanPaste(s.db.QueryRowContext(queryCtx, q, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	return p, nil
}
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}
func (s *SQLite) MarkConsumed(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET consumed = 1 WHERE id = ? AND consumed = 0`, id)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "mark consumed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "mark consumed rows")
	}
	return n == 1, nil
}
func (s *SQLite) DeleteOwned(ctx context.Context, id, remoteAddress string) (bool, error) {
	start := time.Now()
	defer padLatency(start, s.deleteMinLatency)
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ? AND remote_address = ?`, id, remoteAddress)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "delete paste")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "delete paste rows")
	}
	return n > 0, nil
}
func (s *SQLite) queryPastes(ctx context.Context, q string, args ...any) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, q, args...)
	s.recordError(err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Paste
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
func (s *SQLite) ListPublic(ctx context.Context, now time.Time, limit int) ([]*domain.Paste, error) {
	q := `SELECT ` + pasteColumns + ` FROM pastes WHERE ` + eligibleClause + ` ORDER BY date_created DESC, id ASC LIMIT ?`
	out, err := s.queryPastes(ctx, q, now.UnixNano(), limit)
	return out, errors.Wrap(err, "list public")
}

// SearchPublic returns eligible candidates whose title or content contains
// term, compared after Unicode lower-casing.
func (s *SQLite) SearchPublic(ctx context.Context, term string, now time.Time, limit int) ([]*domain.Paste, error) {
	needle := foldCase(term)
	q := `SELECT ` + pasteColumns + ` FROM pastes WHERE ` + eligibleClause +
		` AND (instr(ulower(title), ?) > 0 OR instr(ulower(content), ?) > 0)` +
		` ORDER BY date_created DESC, id ASC LIMIT ?`
	out, err := s.queryPastes(ctx, q, now.UnixNano(), needle, needle, limit)
	return out, errors.Wrap(err, "search public")
}
func (s *SQLite) Reap(ctx context.Context, now time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	for i := 0; i < maxReapBatches; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE consumed = 1 OR (date_of_expiry IS NOT NULL AND date_of_expiry <= ?)
				LIMIT ?
			)
		`, now.UnixNano(), reapBatchSize)
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "reap batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < reapBatchSize {
			break
		}
	}
	return totalDeleted, nil
}
func (s *SQLite) Ping(ctx context.Context) error {
	var result int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
