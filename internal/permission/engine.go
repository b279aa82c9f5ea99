// Package permission implements ordered deny/allow rule evaluation and
// audit logging. The evaluate() contract is synchronous and cannot fail:
// it is a deterministic rule walk that always terminates in a decision,
// unlike a channel-wait-with-timeout approach that could leave a caller
// hanging.
package permission

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-run/conduitd/internal/logging"
	"github.com/conduit-run/conduitd/internal/metrics"
	"github.com/conduit-run/conduitd/internal/store"
)

var log = logging.For("permission")

const (
	SourceAutoRule    = "auto_rule"
	SourceAutoDefault = "auto_default"

	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Decision is the engine's cannot-fail evaluation result.
type Decision struct {
	Behavior       string
	UpdatedInput   any
	Source         string
	RuleID         string // empty when Source == SourceAutoDefault
}

// Request is one tool-use permission check.
type Request struct {
	SessionID string
	ProjectID string // empty if the session has none
	RequestID string
	ToolName  string
	ToolInput json.RawMessage
	DecidedBy string
}

// Engine evaluates permission requests against rules held in a Store and
// writes exactly one audit row per evaluation.
type Engine struct {
	store *store.Store
}

func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Evaluate performs the ordered rule walk and always returns a Decision —
// it cannot fail to produce one: an internal failure (e.g. a rule read
// error) is logged and falls through to an auto_default allow, so a
// storage hiccup never blocks the agent.
func (e *Engine) Evaluate(ctx context.Context, req Request) Decision {
	decision := e.decide(ctx, req)

	entry := &store.LogEntry{
		ID:             uuid.New().String(),
		SessionID:      req.SessionID,
		RequestID:      req.RequestID,
		ToolName:       req.ToolName,
		ToolInputJSON:  string(req.ToolInput),
		Decision:       decision.Behavior,
		DecisionSource: decision.Source,
		RuleID:         decision.RuleID,
		DecidedBy:       req.DecidedBy,
		DecidedAt:       time.Now(),
	}
	if err := e.store.AppendPermissionLog(ctx, entry); err != nil {
		log.WithError(err).Error("failed to append permission audit log entry")
	}

	metrics.PermissionDecisions.WithLabelValues(decision.Behavior, decision.Source).Inc()

	return decision
}

func (e *Engine) decide(ctx context.Context, req Request) Decision {
	if req.ProjectID != "" {
		projectRules, err := e.store.ListRulesByProject(ctx, req.ProjectID)
		if err != nil {
			log.WithError(err).Warn("failed to load project rules, falling through")
		} else {
			if d, ok := firstMatch(projectRules, req, BehaviorDeny); ok {
				return d
			}
		}
	}

	globalRules, err := e.store.ListGlobalRules(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to load global rules, falling through")
		globalRules = nil
	}
	if d, ok := firstMatch(globalRules, req, BehaviorDeny); ok {
		return d
	}

	if req.ProjectID != "" {
		projectRules, err := e.store.ListRulesByProject(ctx, req.ProjectID)
		if err == nil {
			if d, ok := firstMatch(projectRules, req, BehaviorAllow); ok {
				return d
			}
		}
	}

	if d, ok := firstMatch(globalRules, req, BehaviorAllow); ok {
		return d
	}

	return Decision{Behavior: BehaviorAllow, Source: SourceAutoDefault}
}

// firstMatch walks rules of the given behavior, highest priority first,
// and returns the first one matching the request.
func firstMatch(rules []*store.Rule, req Request, behavior string) (Decision, bool) {
	var filtered []*store.Rule
	for _, r := range rules {
		if r.Behavior == behavior {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Priority > filtered[j].Priority })

	for _, r := range filtered {
		if ruleMatches(r.ToolName, r.RuleContent, req.ToolName, req.ToolInput) {
			return Decision{Behavior: behavior, Source: SourceAutoRule, RuleID: r.ID}, true
		}
	}
	return Decision{}, false
}

// --- rule CRUD ---

type CreateRuleInput struct {
	ProjectID   string
	ToolName    string
	RuleContent string
	Behavior    string
	Priority    int
}

func (e *Engine) CreateRule(ctx context.Context, in CreateRuleInput) (*store.Rule, error) {
	r := &store.Rule{
		ID:          uuid.New().String(),
		ProjectID:   in.ProjectID,
		ToolName:    in.ToolName,
		RuleContent: in.RuleContent,
		Behavior:    in.Behavior,
		Priority:    in.Priority,
		CreatedAt:   time.Now(),
	}
	if err := e.store.CreateRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) ListByProject(ctx context.Context, projectID string) ([]*store.Rule, error) {
	return e.store.ListRulesByProject(ctx, projectID)
}

func (e *Engine) ListGlobal(ctx context.Context) ([]*store.Rule, error) {
	return e.store.ListGlobalRules(ctx)
}

// Update applies fields to rule id, silently ignoring any key outside the
// {tool_name, rule_content, behavior, priority} allowlist (enforced in
// internal/store's dynamic SQL update filter).
func (e *Engine) Update(ctx context.Context, id string, fields map[string]any) ([]string, error) {
	return e.store.UpdateRule(ctx, id, fields)
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.DeleteRule(ctx, id)
}
