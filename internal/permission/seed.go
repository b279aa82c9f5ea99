package permission

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/conduit-run/conduitd/internal/logging"
)

var seedLog = logging.For("permission-seed")

// SeedRule is one entry of the YAML seed file format.
type SeedRule struct {
	ProjectID   string `yaml:"project_id"`
	ToolName    string `yaml:"tool_name"`
	RuleContent string `yaml:"rule_content"`
	Behavior    string `yaml:"behavior"`
	Priority    int    `yaml:"priority"`
}

// LoadSeedFile parses the YAML seed file at path into a slice of SeedRule.
// A missing file is not an error: the seed file is optional.
func LoadSeedFile(path string) ([]SeedRule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rules []SeedRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ApplySeed inserts every seed rule not already present among the
// engine's current global rules, identified by the
// (tool_name, rule_content, behavior) triple. It never deletes a rule —
// hot reload only adds.
func (e *Engine) ApplySeed(ctx context.Context, rules []SeedRule) error {
	existing, err := e.ListGlobal(ctx)
	if err != nil {
		return err
	}

	seen := make(map[[3]string]bool, len(existing))
	for _, r := range existing {
		seen[seedKey(r.ToolName, r.RuleContent, r.Behavior)] = true
	}

	for _, sr := range rules {
		if sr.ProjectID != "" {
			continue // the seed file only supplies global default rules
		}
		key := seedKey(sr.ToolName, sr.RuleContent, sr.Behavior)
		if seen[key] {
			continue
		}
		if _, err := e.CreateRule(ctx, CreateRuleInput{
			ToolName: sr.ToolName, RuleContent: sr.RuleContent, Behavior: sr.Behavior, Priority: sr.Priority,
		}); err != nil {
			return err
		}
		seen[key] = true
	}
	return nil
}

func seedKey(toolName, ruleContent, behavior string) [3]string {
	return [3]string{toolName, ruleContent, behavior}
}

// WatchSeedFile watches path for changes and re-applies it on every write,
// until ctx is cancelled. Failures to start the watcher are logged, not
// fatal — seed hot-reload is a convenience, not a core guarantee.
func (e *Engine) WatchSeedFile(ctx context.Context, path string) {
	if path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		seedLog.WithError(err).Warn("failed to start seed file watcher")
		return
	}

	if err := watcher.Add(path); err != nil {
		seedLog.WithError(err).WithField("path", path).Warn("failed to watch seed file; skipping hot reload")
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rules, err := LoadSeedFile(path)
				if err != nil {
					seedLog.WithError(err).Warn("failed to reload seed file")
					continue
				}
				if err := e.ApplySeed(ctx, rules); err != nil {
					seedLog.WithError(err).Warn("failed to apply reloaded seed rules")
					continue
				}
				seedLog.WithField("rules", len(rules)).Info("reloaded permission rule seed file")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				seedLog.WithError(err).Warn("seed file watcher error")
			}
		}
	}()
}
