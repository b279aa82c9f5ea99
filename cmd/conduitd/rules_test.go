package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dataDir, seedFile string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "storage:\n  data_dir: " + dataDir + "\npermission:\n  seed_file: " + seedFile + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRulesImport_AppliesSeedFileAndIsIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(`
- tool_name: "Bash"
  rule_content: "rm -rf *"
  behavior: "deny"
  priority: 100
`), 0o644))

	configPath := writeTestConfig(t, dataDir, seedPath)

	root := newRootCommand()
	root.SetArgs([]string{"rules", "import", "--config", configPath})
	require.NoError(t, root.Execute())

	// running it again must not error or duplicate the rule (ApplySeed is
	// additive-only and de-dupes on tool_name/rule_content/behavior).
	root = newRootCommand()
	root.SetArgs([]string{"rules", "import", "--config", configPath})
	require.NoError(t, root.Execute())
}

func TestRulesImport_MissingSeedFileIsNotAnError(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir, filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	root := newRootCommand()
	root.SetArgs([]string{"rules", "import", "--config", configPath})
	require.NoError(t, root.Execute())
}

func TestMigrate_OpensStoreAndExits(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir, filepath.Join(t.TempDir(), "seed.yaml"))

	root := newRootCommand()
	root.SetArgs([]string{"migrate", "--config", configPath})
	require.NoError(t, root.Execute())
}

func TestVersion_PrintsWithoutError(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
}
