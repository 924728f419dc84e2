package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/driftnet-cli/internal/observability"
)

// resetState clears the globals the command tree leans on so tests do not
// bleed into one another.
func resetState(t *testing.T) {
	t.Helper()
	viper.Reset()
	observability.ResetForTest()
	cfgFile = ""
	appCfg = nil
	t.Cleanup(func() {
		viper.Reset()
		observability.ResetForTest()
		cfgFile = ""
		appCfg = nil
	})
}

func TestRootCommandTree(t *testing.T) {
	resetState(t)

	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["run"])
	assert.True(t, names["serve"])
	assert.True(t, names["proxies"])
}

func TestProxiesSubcommands(t *testing.T) {
	resetState(t)

	root := NewRootCommand()
	proxies, _, err := root.Find([]string{"proxies"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, c := range proxies.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["check"])
	assert.True(t, names["fetch"])
}

func TestInitializeConfigWithoutFileUsesDefaults(t *testing.T) {
	resetState(t)

	require.NoError(t, initializeConfig())

	assert.Equal(t, "info", viper.GetString("logger.level"))
	assert.Positive(t, viper.GetInt("orchestrator.max_sessions"))
}

func TestInitializeConfigMissingExplicitFileFails(t *testing.T) {
	resetState(t)
	cfgFile = "/nonexistent/driftnet.yaml"

	assert.Error(t, initializeConfig())
}

func TestRunCommandRejectsMissingTarget(t *testing.T) {
	resetState(t)
	// Keep the file sink out of the working directory.
	t.Setenv("DRIFTNET_LOGGER_LOG_FILE", filepath.Join(t.TempDir(), "driftnet.log"))

	root := NewRootCommand()
	root.SetArgs([]string{"run"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestUnknownCommandFails(t *testing.T) {
	resetState(t)

	root := NewRootCommand()
	root.SetArgs([]string{"definitely-not-a-command"})

	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestVersionFlag(t *testing.T) {
	resetState(t)

	root := NewRootCommand()
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
}
