package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "puzzlegate", cmd.Use)
	assert.Contains(t, cmd.Long, "unlock by solving puzzles")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"register"}, {"login"}, {"logout"}, {"whoami"},
		{"threads"}, {"thread", "show"}, {"thread", "create"}, {"thread", "delete"},
		{"post", "create"}, {"post", "delete"},
		{"vote"}, {"puzzles"}, {"solve"}, {"stats"},
		{"devserver"}, {"scenario"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)

	for _, name := range []string{"config", "metrics-out"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue, name)
	}
}

func TestThreadsCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	threadsCmd, _, err := cmd.Find([]string{"threads"})
	require.NoError(t, err)

	defaults := map[string]string{
		"search":   "",
		"status":   "all",
		"sort":     "recent",
		"page":     "1",
		"per-page": "0",
	}
	for name, def := range defaults {
		f := threadsCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

func TestLoginCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	loginCmd, _, err := cmd.Find([]string{"login"})
	require.NoError(t, err)

	passwordFlag := loginCmd.Flags().Lookup("password")
	require.NotNil(t, passwordFlag)
	// --password is required, so default is empty
	assert.Equal(t, "", passwordFlag.DefValue)
}

func TestDevServerCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	devCmd, _, err := cmd.Find([]string{"devserver"})
	require.NoError(t, err)

	for _, name := range []string{"addr", "origin", "no-seed"} {
		assert.NotNil(t, devCmd.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--format", "yaml", "stats"}, &stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), `invalid format "yaml"`)
	assert.Empty(t, stdout.String())
}

func TestExecute_ReportsJSONError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--format", "json", "vote", "comment", "1", "up"}, &stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_FAILURE", resp.Error.Code)
}

func TestExecute_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"frobnicate"}, &stdout, &stderr)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestParseID(t *testing.T) {
	id, err := parseID("thread", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3", "1.5"} {
		_, err := parseID("thread", bad)
		assert.Error(t, err, bad)
	}
}
