// Package storage provides SQLite-backed persistence for the reversal
// configuration and closed reversal sessions.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("record not found")

// configurationID is the key of the single configuration row.
const configurationID = 1

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db          *sql.DB
	maxSessions int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/marketpulse/data.db.
func New(maxSessions int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "marketpulse", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxSessions: maxSessions}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reversal_configuration (
			id          INTEGER PRIMARY KEY,
			data        TEXT NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reversal_states (
			id               INTEGER PRIMARY KEY,
			kind             INTEGER NOT NULL,
			event_issued_at  INTEGER,
			ended_at         INTEGER,
			data             TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reversal_coins_states (
			id    INTEGER PRIMARY KEY REFERENCES reversal_states(id) ON DELETE CASCADE,
			data  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reversal_states_event ON reversal_states(event_issued_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveConfiguration validates and stores the reversal configuration.
func (s *Storage) SaveConfiguration(cfg *models.ReversalConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO reversal_configuration (id, data, updated_at)
		VALUES (?,?,?)`,
		configurationID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// LoadConfiguration returns the stored configuration or ErrNotFound.
func (s *Storage) LoadConfiguration() (*models.ReversalConfiguration, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM reversal_configuration WHERE id = ?`, configurationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	var cfg models.ReversalConfiguration
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

// SaveSession stores a closed session and its instrument snapshots.
// Both records are written in one transaction.
func (s *Storage) SaveSession(state *models.ReversalState, coins *models.ReversalCoinsStates) error {
	if state.ID == 0 {
		return errors.New("cannot save a session without id")
	}
	if coins.ID != state.ID {
		return fmt.Errorf("coins states id %d does not match session id %d", coins.ID, state.ID)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	coinsJSON, err := json.Marshal(coins)
	if err != nil {
		return fmt.Errorf("failed to marshal coins states: %w", err)
	}

	var issuedAt, endedAt sql.NullInt64
	if state.Event != nil {
		issuedAt = sql.NullInt64{Int64: state.Event.IssuedAt, Valid: true}
	}
	if state.EndedAt != nil {
		endedAt = sql.NullInt64{Int64: *state.EndedAt, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO reversal_states (id, kind, event_issued_at, ended_at, data)
		VALUES (?,?,?,?,?)`,
		state.ID, int(state.Kind), issuedAt, endedAt, string(stateJSON),
	); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO reversal_coins_states (id, data) VALUES (?,?)`,
		coins.ID, string(coinsJSON),
	); err != nil {
		return fmt.Errorf("failed to insert coins states: %w", err)
	}
	if s.maxSessions > 0 {
		if _, err := tx.Exec(`
			DELETE FROM reversal_states WHERE id NOT IN (
				SELECT id FROM reversal_states ORDER BY id DESC LIMIT ?
			)`, s.maxSessions); err != nil {
			return fmt.Errorf("failed to enforce session cap: %w", err)
		}
	}
	return tx.Commit()
}

// GetSessionByID returns a closed session and its snapshots, or ErrNotFound.
func (s *Storage) GetSessionByID(id int64) (*models.ReversalState, *models.ReversalCoinsStates, error) {
	var stateJSON, coinsJSON string
	err := s.db.QueryRow(`
		SELECT r.data, c.data
		FROM reversal_states r JOIN reversal_coins_states c ON c.id = r.id
		WHERE r.id = ?`, id).Scan(&stateJSON, &coinsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	var state models.ReversalState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	var coins models.ReversalCoinsStates
	if err := json.Unmarshal([]byte(coinsJSON), &coins); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal coins states: %w", err)
	}
	return &state, &coins, nil
}

// ListSessions returns the newest sessions first. When eventsOnly is set,
// sessions that never issued an event are skipped.
func (s *Storage) ListSessions(limit int, eventsOnly bool) ([]models.ReversalState, error) {
	query := `SELECT data FROM reversal_states`
	if eventsOnly {
		query += ` WHERE event_issued_at IS NOT NULL`
	}
	query += ` ORDER BY id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ReversalState{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var st models.ReversalState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sessions = append(sessions, st)
	}
	return sessions, rows.Err()
}
