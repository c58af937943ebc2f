// Package rules is the Rule Store (spec.md §4.9): a durable SQLite-
// backed table of allow/deny decisions, matched against a connection
// in priority order (exe hash, exe path, process+destination+port,
// process+destination+any port). Schema and matching priority are
// reproduced from original_source/backend/core/rules_manager.py; the
// WAL-mode-SQLite-behind-a-mutex discipline is carried over directly
// from the teacher's internal/transport.OfflineQueue.
package rules

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/serome111/portwatch/internal/model"
)

// Store is the Rule Store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the SQLite database at dbPath in WAL
// mode, the same connection string shape as the teacher's OfflineQueue.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("rules: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			process TEXT NOT NULL,
			exe_path TEXT,
			exe_hash TEXT,
			destination TEXT NOT NULL,
			port INTEGER,
			protocol TEXT NOT NULL,
			action TEXT NOT NULL,
			scope TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME,
			user_comment TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			context BLOB
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("rules: create table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_rules_process ON rules(process)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("rules: create index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create validates and inserts a new Rule, assigning it a uuid and
// CreatedAt if unset.
func (s *Store) Create(r model.Rule) (model.Rule, error) {
	if r.Process == "" {
		return model.Rule{}, fmt.Errorf("rules: process is required")
	}
	if r.Destination == "" {
		return model.Rule{}, fmt.Errorf("rules: destination is required")
	}
	switch r.Action {
	case model.ActionAllow, model.ActionDeny:
	default:
		return model.Rule{}, fmt.Errorf("rules: invalid action %q, rules may only allow or deny", r.Action)
	}
	switch r.Scope {
	case model.ScopeOnce, model.ScopeAlways, model.ScopeTemporary:
	default:
		return model.Rule{}, fmt.Errorf("rules: invalid scope %q", r.Scope)
	}
	if r.Scope == model.ScopeTemporary && r.ExpiresAt == nil {
		return model.Rule{}, fmt.Errorf("rules: scope=temporary requires expires_at")
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Enabled = true

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO rules (id, process, exe_path, exe_hash, destination, port, protocol,
			action, scope, created_at, expires_at, user_comment, enabled, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Process, r.ExePath, r.ExeHash, r.Destination, r.Port, string(r.Protocol),
		string(r.Action), string(r.Scope), r.CreatedAt, r.ExpiresAt, r.UserComment, true, r.Context)
	if err != nil {
		return model.Rule{}, fmt.Errorf("rules: insert: %w", err)
	}
	return r, nil
}

// Delete permanently removes a rule by ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	return err
}

// Disable marks a rule inactive without deleting it. FindMatching's
// scope=once auto-disable runs its own UPDATE rather than calling this.
func (s *Store) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE rules SET enabled = 0 WHERE id = ?`, id)
	return err
}

// Enable re-activates a previously disabled rule.
func (s *Store) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE rules SET enabled = 1 WHERE id = ?`, id)
	return err
}

// List returns every rule, enabled or not.
func (s *Store) List() ([]model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, process, exe_path, exe_hash, destination, port, protocol,
			action, scope, created_at, expires_at, user_comment, enabled, context
		FROM rules ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (model.Rule, error) {
	var r model.Rule
	var protocol, action, scope string
	var port sql.NullInt64
	var exePath, exeHash, comment sql.NullString
	var expiresAt sql.NullTime
	var enabled bool
	var context []byte

	if err := row.Scan(&r.ID, &r.Process, &exePath, &exeHash, &r.Destination, &port, &protocol,
		&action, &scope, &r.CreatedAt, &expiresAt, &comment, &enabled, &context); err != nil {
		return model.Rule{}, err
	}

	r.Protocol = model.Protocol(protocol)
	r.Action = model.Action(action)
	r.Scope = model.Scope(scope)
	r.Enabled = enabled
	r.Context = context
	if exePath.Valid {
		r.ExePath = exePath.String
	}
	if exeHash.Valid {
		r.ExeHash = exeHash.String
	}
	if comment.Valid {
		r.UserComment = comment.String
	}
	if port.Valid {
		p := int(port.Int64)
		r.Port = &p
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		r.ExpiresAt = &t
	}
	return r, nil
}

// Match is a candidate query against which the store finds a matching
// rule.
type Match struct {
	Process     string
	ExePath     string
	ExeHash     string
	Destination string
	Port        int
}

// FindMatching looks up a matching rule for conn, in priority order:
// (1) exe_hash, (2) exe_path, (3) process+destination+port,
// (4) process+destination+any port — reproduced exactly from
// rules_manager.py's find_matching_rule. Expired temporary rules are
// disabled before matching; a once-scoped match is disabled
// immediately as part of this call (spec.md §9 open question: "once"
// means one tick's decision, not one socket's lifetime).
func (s *Store) FindMatching(m Match) (*model.Rule, error) {
	if err := s.disableExpiredLocked(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queries := []struct {
		sql  string
		args []interface{}
	}{
		{
			`SELECT id, process, exe_path, exe_hash, destination, port, protocol, action, scope,
				created_at, expires_at, user_comment, enabled, context
			 FROM rules WHERE enabled = 1 AND exe_hash = ? AND exe_hash != ''
			 AND destination = ? AND (port = ? OR port IS NULL)
			 ORDER BY port DESC LIMIT 1`,
			[]interface{}{m.ExeHash, m.Destination, m.Port},
		},
		{
			`SELECT id, process, exe_path, exe_hash, destination, port, protocol, action, scope,
				created_at, expires_at, user_comment, enabled, context
			 FROM rules WHERE enabled = 1 AND exe_path = ? AND exe_path != ''
			 AND destination = ? AND (port = ? OR port IS NULL)
			 ORDER BY port DESC LIMIT 1`,
			[]interface{}{m.ExePath, m.Destination, m.Port},
		},
		{
			`SELECT id, process, exe_path, exe_hash, destination, port, protocol, action, scope,
				created_at, expires_at, user_comment, enabled, context
			 FROM rules WHERE enabled = 1 AND process = ? AND destination = ? AND port = ?
			 ORDER BY port DESC LIMIT 1`,
			[]interface{}{m.Process, m.Destination, m.Port},
		},
		{
			`SELECT id, process, exe_path, exe_hash, destination, port, protocol, action, scope,
				created_at, expires_at, user_comment, enabled, context
			 FROM rules WHERE enabled = 1 AND process = ? AND destination = ? AND port IS NULL
			 LIMIT 1`,
			[]interface{}{m.Process, m.Destination},
		},
	}

	for i, q := range queries {
		if i == 0 && m.ExeHash == "" {
			continue
		}
		if i == 1 && m.ExePath == "" {
			continue
		}
		row := s.db.QueryRow(q.sql, q.args...)
		r, err := scanRule(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.Scope == model.ScopeOnce {
			if _, err := s.db.Exec(`UPDATE rules SET enabled = 0 WHERE id = ?`, r.ID); err != nil {
				return nil, err
			}
			r.Enabled = false
		}
		return &r, nil
	}
	return nil, nil
}

// disableExpiredLocked disables any temporary rule whose ExpiresAt has
// passed, the housekeeping half of the enforceLimit-style discipline
// carried over from the teacher's OfflineQueue.
func (s *Store) disableExpiredLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE rules SET enabled = 0
		WHERE scope = ? AND enabled = 1 AND expires_at IS NOT NULL AND expires_at < ?
	`, string(model.ScopeTemporary), time.Now())
	return err
}

// CleanupExpired is the periodic housekeeping entry point, exposed so
// the orchestrator can call it on its own cadence rather than only
// inline with FindMatching.
func (s *Store) CleanupExpired() error {
	return s.disableExpiredLocked()
}

// Export returns every rule for backup/migration.
func (s *Store) Export() ([]model.Rule, error) {
	return s.List()
}

// Import inserts rules from a prior Export, regenerating IDs so
// imported rules never collide with existing ones.
func (s *Store) Import(imported []model.Rule) (int, error) {
	n := 0
	for _, r := range imported {
		r.ID = ""
		if _, err := s.Create(r); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
