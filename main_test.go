package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tradedoc-cli/cmd"
	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/credentials"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/buildinfo"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
)

func testDeps(t *testing.T) (*cmd.Deps, *config.CLIConfig) {
	t.Helper()
	t.Setenv(credentials.APIKeyEnv, "")
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	return &cmd.Deps{
		LoadConfig: func() (*config.CLIConfig, error) {
			c := *cfg
			return &c, nil
		},
		SaveConfig: func(c *config.CLIConfig) error {
			*cfg = *c
			return nil
		},
		OpenCredentials: func() (*credentials.Store, error) {
			return credentials.NewStoreAt(dir, credentials.NewPassphraseKeyProvider("test", []byte("0123456789abcdef")))
		},
	}, cfg
}

func execute(t *testing.T, deps *cmd.Deps, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(deps)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	deps, _ := testDeps(t)
	root := newRootCommand(deps)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
		assert.NotEmpty(t, c.GroupID, "%s should belong to a help group", c.Name())
	}
	for _, want := range []string{"bulk", "extract", "history", "template", "serve", "db", "auth", "config", "version", "completion"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestVersionCommand(t *testing.T) {
	deps, _ := testDeps(t)

	out, err := execute(t, deps, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tradedoc version "+buildinfo.Version)

	out, err = execute(t, deps, "version", "--output-json")
	require.NoError(t, err)
	var info buildinfo.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, buildinfo.ServiceName, info.ServiceName)
}

func TestOutputFlagOverridesConfig(t *testing.T) {
	deps, _ := testDeps(t)

	out, err := execute(t, deps, "auth", "status", "-o", "json")
	require.NoError(t, err)

	var status cmd.AuthStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "none", status.APIKeySource)
	assert.False(t, status.SignedIn)
}

func TestOutputFlagRejectsUnknownFormat(t *testing.T) {
	deps, _ := testDeps(t)

	_, err := execute(t, deps, "auth", "status", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestConfigSet(t *testing.T) {
	deps, cfg := testDeps(t)

	out, err := execute(t, deps, "config", "set", "pipeline.row_delay", "500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Set pipeline.row_delay = 500ms")
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RowDelay)

	_, err = execute(t, deps, "config", "set", "pipeline.duties_payer", "Nobody")
	require.Error(t, err)
	assert.Equal(t, "Buyer", cfg.Pipeline.DutiesPayer)

	_, err = execute(t, deps, "config", "set", "no.such.key", "x")
	require.Error(t, err)
}

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(*config.CLIConfig) bool
		wantErr    bool
	}{
		{"output_format", "yaml", func(c *config.CLIConfig) bool { return c.OutputFormat == config.OutputFormatYAML }, false},
		{"output_format", "xml", nil, true},
		{"default_origin", "DEU", func(c *config.CLIConfig) bool { return c.DefaultOrigin == "DEU" }, false},
		{"debug", "true", func(c *config.CLIConfig) bool { return c.Debug }, false},
		{"debug", "maybe", nil, true},
		{"ai.timeout", "45s", func(c *config.CLIConfig) bool { return c.AI.Timeout == 45*time.Second }, false},
		{"ai.timeout", "soon", nil, true},
		{"history.backend", "redis", func(c *config.CLIConfig) bool { return c.History.Backend == history.BackendRedis }, false},
		{"server.address", ":9090", func(c *config.CLIConfig) bool { return c.Server.Address == ":9090" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := config.DefaultConfig()
			err := setConfigValue(cfg, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.check(cfg))
		})
	}
}

func TestCompletionCommand(t *testing.T) {
	deps, _ := testDeps(t)

	out, err := execute(t, deps, "completion", "bash")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "tradedoc"))

	_, err = execute(t, deps, "completion", "tcsh")
	assert.Error(t, err)
}
