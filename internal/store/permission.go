package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conduit-run/conduitd/internal/conduiterr"
)

type Rule struct {
	ID          string
	ProjectID   string // empty means global
	ToolName    string
	RuleContent string
	Behavior    string
	Priority    int
	CreatedAt   time.Time
}

func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	var projectID any
	if r.ProjectID != "" {
		projectID = r.ProjectID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_rules (id, project_id, tool_name, rule_content, behavior, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, projectID, r.ToolName, r.RuleContent, r.Behavior, r.Priority, r.CreatedAt)
	return err
}

func (s *Store) ListRulesByProject(ctx context.Context, projectID string) ([]*Rule, error) {
	return s.queryRules(ctx, `
		SELECT id, project_id, tool_name, rule_content, behavior, priority, created_at
		FROM permission_rules WHERE project_id = ? ORDER BY priority DESC
	`, projectID)
}

func (s *Store) ListGlobalRules(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, `
		SELECT id, project_id, tool_name, rule_content, behavior, priority, created_at
		FROM permission_rules WHERE project_id IS NULL ORDER BY priority DESC
	`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		var r Rule
		var projectID sql.NullString
		if err := rows.Scan(&r.ID, &projectID, &r.ToolName, &r.RuleContent, &r.Behavior, &r.Priority, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ProjectID = projectID.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

// mutableRuleColumns is the explicit allowlist of field names UpdateRule
// may ever write, regardless of what the caller's payload contains. This
// is a security property, not an ergonomic one.
var mutableRuleColumns = map[string]bool{
	"tool_name":    true,
	"rule_content": true,
	"behavior":     true,
	"priority":     true,
}

// UpdateRule applies fields to the rule identified by id, silently
// ignoring any key not in mutableRuleColumns. It returns the set of column
// names actually modified, which must equal fields-keys ∩ allowlist.
func (s *Store) UpdateRule(ctx context.Context, id string, fields map[string]any) ([]string, error) {
	var (
		setClauses []string
		args       []any
		applied    []string
	)

	// Iterate the allowlist itself (not the caller's map) so the order of
	// generated SQL is deterministic and no foreign key outside the
	// allowlist can ever be reached, even if the map contained collisions.
	for _, col := range []string{"tool_name", "rule_content", "behavior", "priority"} {
		val, ok := fields[col]
		if !ok {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", col))
		args = append(args, val)
		applied = append(applied, col)
	}

	if len(setClauses) == 0 {
		return applied, nil
	}

	query := "UPDATE permission_rules SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE id = ?"
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, conduiterr.NewNotFoundError("permission rule not found", nil)
	}

	return applied, nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permission_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return conduiterr.NewNotFoundError("permission rule not found", nil)
	}
	return nil
}

type LogEntry struct {
	ID             string
	SessionID      string
	RequestID      string
	ToolName       string
	ToolInputJSON  string
	Decision       string
	DecisionSource string
	RuleID         string // empty means null
	DecidedBy      string
	DecidedAt      time.Time
}

func (s *Store) AppendPermissionLog(ctx context.Context, e *LogEntry) error {
	var ruleID any
	if e.RuleID != "" {
		ruleID = e.RuleID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_log (id, session_id, request_id, tool_name, tool_input_json, decision, decision_source, rule_id, decided_by, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SessionID, e.RequestID, e.ToolName, e.ToolInputJSON, e.Decision, e.DecisionSource, ruleID, e.DecidedBy, e.DecidedAt)
	return err
}

// CountPermissionLogForSession returns the number of audit rows recorded
// for a session, used to verify audit completeness.
func (s *Store) CountPermissionLogForSession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permission_log WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
