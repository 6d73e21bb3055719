package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/puzzlegate/internal/forum"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("NOT_FOUND", "thread 9 not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "thread 9 not found", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"puzzle": "Caesar's Secret"}
	err := formatter.Error("LOCKED", "solve the puzzle first", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Logged out.")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Logged out.")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("NOT_FOUND", "thread 9 not found", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [NOT_FOUND]")
	assert.Contains(t, buf.String(), "thread 9 not found")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"puzzle": "Caesar's Secret"}
	err := formatter.Error("NOT_FOUND", "thread 9 not found", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [NOT_FOUND]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("vote on %s rolled back", "threads/1")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "vote on threads/1 rolled back")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    "VALIDATION_FAILURE",
		Message: "title is required",
		Details: []string{"title is required"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "VALIDATION_FAILURE", decoded.Code)
	assert.Equal(t, "title is required", decoded.Message)
}

func TestOutputFormatter_TextErrorUsesErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}

	require.NoError(t, formatter.Fail(forum.NewLockedError("open thread", "Caesar's Secret")))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [LOCKED]")
}

func TestOutputFormatter_TextWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	stats := forum.AggregateStats{PuzzlesCompleted: 1, TotalPuzzles: 3, ThreadsUnlocked: 2, TotalThreads: 4}
	require.NoError(t, formatter.Success(statsResult(stats)))
	assert.Equal(t, "Puzzles solved: 1/3  Threads unlocked: 2/4\n", buf.String())
}

func TestOutputFormatter_JSONIgnoresTextWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(statsResult(forum.AggregateStats{TotalPuzzles: 3})))

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data["totalPuzzles"])
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		id   string
	}{
		{"exit_error", NewExitError(ExitCommandError, "bad config"), ExitCommandError, "COMMAND_ERROR"},
		{"wrapped_exit_error", fmt.Errorf("ctx: %w", WrapExitError(ExitFailure, "x", errors.New("y"))), ExitFailure, "FAILURE"},
		{"validation", forum.NewValidationError("parse", "bad"), ExitCommandError, "VALIDATION_FAILURE"},
		{"transport", forum.NewTransportError("get", errors.New("refused")), ExitCommandError, "TRANSPORT_FAILURE"},
		{"not_found", forum.NewNotFoundError("open thread", "thread", 9), ExitFailure, "NOT_FOUND"},
		{"locked", forum.NewLockedError("open thread", "Morse Relay"), ExitFailure, "LOCKED"},
		{"unauthorized", forum.NewUnauthorizedError("vote", "not logged in"), ExitFailure, "UNAUTHORIZED"},
		{"plain", errors.New("boom"), ExitFailure, "FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetExitCode(tt.err))
			assert.Equal(t, tt.id, ErrorCode(tt.err))
		})
	}
}
