package permission

import "testing"

func TestPatternMatches_PrefixColon(t *testing.T) {
	cases := []struct {
		pattern, target string
		want            bool
	}{
		{"git:*", "git commit -m x", true},
		{"git:*", "digits are fun", false},
		{"*", "anything", true},
		{"rm -rf *", "rm -rf /tmp/x", true},
		{"rm -rf *", "echo safe", false},
	}
	for _, c := range cases {
		if got := patternMatches(c.pattern, c.target); got != c.want {
			t.Errorf("patternMatches(%q, %q) = %v, want %v", c.pattern, c.target, got, c.want)
		}
	}
}

func TestPatternMatches_EscapesRegexMetacharacters(t *testing.T) {
	if !patternMatches("a.b", "a.b") {
		t.Error("expected literal dot to match itself")
	}
	if patternMatches("a.b", "axb") {
		t.Error("literal dot must not behave as regex wildcard")
	}
}

func TestTargetValue_BashUsesCommand(t *testing.T) {
	got := targetValue("Bash", []byte(`{"command":"ls -la"}`))
	if got != "ls -la" {
		t.Errorf("got %q", got)
	}
}

func TestTargetValue_EditUsesFilePath(t *testing.T) {
	got := targetValue("Edit", []byte(`{"file_path":"/tmp/x.go","old_string":"a"}`))
	if got != "/tmp/x.go" {
		t.Errorf("got %q", got)
	}
}
