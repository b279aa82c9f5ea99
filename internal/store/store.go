// Package store is the single embedded persistence engine the core writes
// through. Grounded on
// ttzrs-urp-cli/go/internal/opencode/storage/storage.go's
// database/sql + mattn/go-sqlite3 shape: one *sql.DB, CREATE TABLE IF NOT
// EXISTS migrations run at Open, foreign keys turned on explicitly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conduit-run/conduitd/internal/conduiterr"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database under dataDir and
// runs schema migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "conduit.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_fk=true&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(schemaDDL)
	return err
}

// --- projects (read-only to the core) ---

type Project struct {
	ID                     string
	FolderPath             string
	DefaultModel           string
	DefaultPermissionMode  string
	SystemPrompt           string
	AppendSystemPrompt     string
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var defaultModel, defaultMode, systemPrompt, appendPrompt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, folder_path, default_model, default_permission_mode, system_prompt, append_system_prompt
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.FolderPath, &defaultModel, &defaultMode, &systemPrompt, &appendPrompt)
	if err == sql.ErrNoRows {
		return nil, conduiterr.NewNotFoundError("project not found", err)
	}
	if err != nil {
		return nil, err
	}

	p.DefaultModel = defaultModel.String
	p.DefaultPermissionMode = defaultMode.String
	p.SystemPrompt = systemPrompt.String
	p.AppendSystemPrompt = appendPrompt.String
	return &p, nil
}

// --- sessions ---

type Session struct {
	ID               string
	ProjectID        string
	AgentID          string
	Name             string
	Status           string
	Model            string
	CLIPID           int
	WSPort           int
	TotalCostUSD     float64
	TotalInputTokens int
	TotalOutputTokens int
	NumTurns         int
	ErrorMessage     string
	CreatedAt        time.Time
	LastActiveAt     sql.NullTime
	ClosedAt         sql.NullTime
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	var projectID any
	if sess.ProjectID != "" {
		projectID = sess.ProjectID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, agent_id, name, status, model, cli_pid, ws_port,
			total_cost_usd, total_input_tokens, total_output_tokens, num_turns, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, '', ?)
	`, sess.ID, projectID, sess.AgentID, sess.Name, sess.Status, sess.Model, sess.CLIPID, sess.WSPort, sess.CreatedAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent_id, name, status, model, cli_pid, ws_port,
			total_cost_usd, total_input_tokens, total_output_tokens, num_turns, error_message,
			created_at, last_active_at, closed_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

func (s *Store) ListNonTerminalSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, agent_id, name, status, model, cli_pid, ws_port,
			total_cost_usd, total_input_tokens, total_output_tokens, num_turns, error_message,
			created_at, last_active_at, closed_at
		FROM sessions WHERE status NOT IN ('closed', 'error')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var projectID, agentID, model, errMsg sql.NullString
	var cliPID sql.NullInt64

	err := row.Scan(&sess.ID, &projectID, &agentID, &sess.Name, &sess.Status, &model, &cliPID, &sess.WSPort,
		&sess.TotalCostUSD, &sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.NumTurns, &errMsg,
		&sess.CreatedAt, &sess.LastActiveAt, &sess.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, conduiterr.NewNotFoundError("session not found", err)
	}
	if err != nil {
		return nil, err
	}

	sess.ProjectID = projectID.String
	sess.AgentID = agentID.String
	sess.Model = model.String
	sess.ErrorMessage = errMsg.String
	sess.CLIPID = int(cliPID.Int64)
	return &sess, nil
}

func (s *Store) SetAgentID(ctx context.Context, id, agentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET agent_id = ? WHERE id = ? AND (agent_id IS NULL OR agent_id = '')`, agentID, id)
	return err
}

func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) SetErrorAndClose(ctx context.Context, id, errorMessage string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'error', error_message = ?, closed_at = ? WHERE id = ?
	`, errorMessage, closedAt, id)
	return err
}

// CloseSession marks id closed with the given timestamp.
func (s *Store) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'closed', closed_at = ? WHERE id = ?
	`, closedAt, id)
	return err
}

// SetCLIPID records the subprocess pid once it is known.
func (s *Store) SetCLIPID(ctx context.Context, id string, pid int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET cli_pid = ? WHERE id = ?`, pid, id)
	return err
}

// DeleteSession removes a session row outright. Only used to unwind a
// Create call that failed after the row was written but before the
// subprocess came up, so no partially-acquired resources survive a
// failed create.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ApplyResult performs the atomic SET-cost/tokens + INCREMENT-turns +
// status transition for a single `result` frame. A single UPDATE
// statement is inherently atomic under SQLite.
func (s *Store) ApplyResult(ctx context.Context, id string, totalCostUSD float64, inputTokens, outputTokens int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET total_cost_usd = ?, total_input_tokens = ?, total_output_tokens = ?,
			num_turns = num_turns + 1, last_active_at = ?, status = 'idle'
		WHERE id = ?
	`, totalCostUSD, inputTokens, outputTokens, now, id)
	return err
}

func (s *Store) TouchLastActive(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_active_at = ? WHERE id = ?`, now, id)
	return err
}

// --- messages (append-only transcript) ---

func (s *Store) AppendMessage(ctx context.Context, id, sessionID, direction, frameType, payload string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, direction, frame_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, sessionID, direction, frameType, payload, createdAt)
	return err
}
