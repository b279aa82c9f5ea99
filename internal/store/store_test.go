package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New().String()
	require.NoError(t, s.CreateSession(ctx, &Session{
		ID: id, Name: "s1", Status: "starting", WSPort: 8101, CreatedAt: time.Now(),
	}))

	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "starting", got.Status)
	require.Equal(t, 0, got.NumTurns)
}

func TestApplyResult_SetSemanticsNotAccumulated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New().String()
	require.NoError(t, s.CreateSession(ctx, &Session{ID: id, Name: "s1", Status: "active", CreatedAt: time.Now()}))

	require.NoError(t, s.ApplyResult(ctx, id, 0.05, 100, 50, time.Now()))
	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0.05, got.TotalCostUSD)
	require.Equal(t, 100, got.TotalInputTokens)
	require.Equal(t, 50, got.TotalOutputTokens)
	require.Equal(t, 1, got.NumTurns)

	require.NoError(t, s.ApplyResult(ctx, id, 0.12, 240, 130, time.Now()))
	got2, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0.12, got2.TotalCostUSD)
	require.Equal(t, 240, got2.TotalInputTokens)
	require.Equal(t, 130, got2.TotalOutputTokens)
	require.Equal(t, 2, got2.NumTurns)
}

func TestUpdateRule_OnlyAllowlistedColumnsChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New().String()
	require.NoError(t, s.CreateRule(ctx, &Rule{
		ID: id, ToolName: "Bash", RuleContent: "", Behavior: "allow", Priority: 0, CreatedAt: time.Now(),
	}))

	applied, err := s.UpdateRule(ctx, id, map[string]any{
		"priority":   10,
		"project_id": "should-be-ignored",
		"id":         "should-be-ignored-too",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"priority"}, applied)

	rules, err := s.ListGlobalRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, 10, rules[0].Priority)
	require.Equal(t, "", rules[0].ProjectID)
}

func TestUpdateRule_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateRule(context.Background(), "nonexistent", map[string]any{"priority": 1})
	require.Error(t, err)
}

func TestAppendPermissionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	require.NoError(t, s.CreateSession(ctx, &Session{ID: sessionID, Name: "s1", Status: "active", CreatedAt: time.Now()}))

	require.NoError(t, s.AppendPermissionLog(ctx, &LogEntry{
		ID: uuid.New().String(), SessionID: sessionID, RequestID: "r1", ToolName: "Bash",
		ToolInputJSON: `{"command":"ls"}`, Decision: "allow", DecisionSource: "auto_default",
		DecidedBy: "engine", DecidedAt: time.Now(),
	}))
}

func TestListNonTerminalSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	activeID := uuid.New().String()
	closedID := uuid.New().String()
	require.NoError(t, s.CreateSession(ctx, &Session{ID: activeID, Name: "a", Status: "active", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateSession(ctx, &Session{ID: closedID, Name: "c", Status: "closed", CreatedAt: time.Now()}))

	got, err := s.ListNonTerminalSessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, activeID, got[0].ID)
}
