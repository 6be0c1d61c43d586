// Package journal persists terminal operation outcomes to SQLite so that
// aggregate reports survive a restart. It is optional: the queue takes it
// through the Recorder interface and runs identically without one.
package journal

import (
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/adforge/adsengine/internal/queue"
)

// Config configures the journal store.
type Config struct {
	DataDir       string // directory for journal.db
	RetentionDays int    // days to keep entries (default 30, 0 = forever)
}

// Entry is one recorded operation outcome.
type Entry struct {
	ID          string
	AccountID   string
	OperationID string
	Type        string
	Status      string
	Attempts    int
	Error       string
	DurationMS  int64
	CreatedAt   time.Time
}

// Store is a SQLite-backed journal.
type Store struct {
	mu            sync.Mutex
	db            *sql.DB
	entropy       *ulid.MonotonicEntropy
	retentionDays int
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// Open creates or opens the journal database under dataDir.
func Open(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "journal.db")

	// Pragmas go in the DSN so every pool connection is configured.
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	retentionDays := cfg.RetentionDays
	if retentionDays == 0 {
		retentionDays = 30
	}

	s := &Store{
		db:            db,
		entropy:       ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		retentionDays: retentionDays,
		stopChan:      make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	if retentionDays > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}

	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS operation_outcomes (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			operation_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_account_created
			ON operation_outcomes(account_id, created_at);
	`)
	return err
}

// RecordOutcome implements queue.Recorder. Failures are logged, not
// propagated: the journal must never hold up the drain loop.
func (s *Store) RecordOutcome(accountID string, res queue.Result) {
	s.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	s.mu.Unlock()

	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}

	_, err := s.db.Exec(`
		INSERT INTO operation_outcomes
			(id, account_id, operation_id, type, status, attempts, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, res.OperationID, res.Type, string(res.Status),
		res.Attempts, errText, res.Duration.Milliseconds(), time.Now().Unix(),
	)
	if err != nil {
		log.Warn().Str("account", accountID).Str("operation", res.OperationID).Err(err).Msg("Failed to journal operation outcome")
	}
}

// List returns the most recent entries for an account, newest first.
func (s *Store) List(accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, account_id, operation_id, type, status, attempts, error, duration_ms, created_at
		FROM operation_outcomes
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.AccountID, &e.OperationID, &e.Type, &e.Status,
			&e.Attempts, &e.Error, &e.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Store) sweep() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).Unix()
	res, err := s.db.Exec(`DELETE FROM operation_outcomes WHERE created_at < ?`, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Journal retention sweep failed")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Debug().Int64("removed", n).Msg("Journal retention sweep removed old entries")
	}
}

// Close stops the retention sweeper and closes the database.
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.db.Close()
}
