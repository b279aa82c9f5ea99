package permission

import (
	"encoding/json"
	"regexp"
	"strings"
)

// targetValue extracts the string a rule's rule_content is matched
// against, tool by tool.
func targetValue(toolName string, toolInput json.RawMessage) string {
	var decoded map[string]any
	_ = json.Unmarshal(toolInput, &decoded)

	switch toolName {
	case "Bash":
		if cmd, ok := decoded["command"].(string); ok {
			return cmd
		}
		return ""
	case "Read", "Write", "Edit":
		if path, ok := decoded["file_path"].(string); ok {
			return path
		}
		return ""
	default:
		canonical, err := canonicalJSON(decoded)
		if err != nil {
			return string(toolInput)
		}
		return canonical
	}
}

// canonicalJSON re-marshals a decoded value so object keys come out in a
// stable (alphabetical, via encoding/json's default map ordering) order
// regardless of how the original input was ordered on the wire.
func canonicalJSON(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ruleMatches reports whether a rule's tool name and rule content match a
// permission request.
func ruleMatches(ruleToolName, ruleContent, requestToolName string, toolInput json.RawMessage) bool {
	if ruleToolName != "*" && ruleToolName != requestToolName {
		return false
	}
	if ruleContent == "" {
		return true
	}

	target := targetValue(requestToolName, toolInput)
	return patternMatches(ruleContent, target)
}

// patternMatches implements a limited glob: '*' means "any run of any
// characters", everything else is literal. A special
// "prefix:*" form (pattern contains ':' with exactly "*" after the first
// colon) matches by literal prefix instead of going through the regex
// path.
func patternMatches(pattern, target string) bool {
	if idx := strings.Index(pattern, ":"); idx >= 0 && pattern[idx+1:] == "*" {
		prefix := pattern[:idx]
		return strings.HasPrefix(target, prefix)
	}

	re := globToRegexp(pattern)
	return re.MatchString(target)
}

func globToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
