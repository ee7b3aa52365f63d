package quota

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists counters so that usage survives a restart within
// the same day.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the counter database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening quota db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating quota db: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quota_counters (
			credential_id TEXT NOT NULL,
			day TEXT NOT NULL,
			used INTEGER NOT NULL,
			call_limit INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (credential_id, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quota_counters_day ON quota_counters(day)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(credentialID, day string) (Counter, bool, error) {
	c := Counter{CredentialID: credentialID, Day: day}
	err := s.db.QueryRow(
		"SELECT used, call_limit FROM quota_counters WHERE credential_id = ? AND day = ?",
		credentialID, day,
	).Scan(&c.Used, &c.Limit)
	if errors.Is(err, sql.ErrNoRows) {
		return Counter{}, false, nil
	}
	if err != nil {
		return Counter{}, false, err
	}
	return c, true, nil
}

func (s *SQLiteStore) Save(c Counter) error {
	_, err := s.db.Exec(`INSERT INTO quota_counters (credential_id, day, used, call_limit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(credential_id, day) DO UPDATE SET
			used = MAX(quota_counters.used, excluded.used),
			call_limit = excluded.call_limit,
			updated_at = CURRENT_TIMESTAMP`,
		c.CredentialID, c.Day, c.Used, c.Limit)
	return err
}

func (s *SQLiteStore) Prune(before string) error {
	_, err := s.db.Exec("DELETE FROM quota_counters WHERE day < ?", before)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
