package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stateindex/internal/config"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/store"
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

	err := formatter.Error("E001", "request is not valid", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)
	assert.Equal(t, "request is not valid", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"file": "request.json", "offset": "42"}
	err := formatter.Error("E002", "malformed body", details)
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

	err := formatter.Success("All specs valid")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "All specs valid")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E001", "request is not valid", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "request is not valid")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"file": "request.json"}
	err := formatter.Error("E001", "request is not valid", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
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

			formatter.VerboseLog("Processing %s", "request.json")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Processing request.json")
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
		Code:    "950201",
		Message: "Limit must be less than or equal to 5000, found 6000.",
		Details: []string{"limit"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "950201", decoded.Code)
	assert.Equal(t, "Limit must be less than or equal to 5000, found 6000.", decoded.Message)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitCommandError, "bad", errors.New("cause")))))

	err := WrapExitError(ExitFailure, "invalid request", errors.New("cause"))
	assert.Equal(t, "invalid request: cause", err.Error())
	assert.Equal(t, "cause", errors.Unwrap(err).Error())
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		details interface{}
	}{
		{
			name:    "validation",
			err:     queryir.NewInvalidParameter("limit", "Limit must be less than or equal to %d, found %d.", 5000, 6000),
			code:    "950201",
			details: map[string]string{"parameter": "limit"},
		},
		{
			name:    "missing parameter",
			err:     fmt.Errorf("decode: %w", queryir.NewMissingParameter("filter.fragment.position")),
			code:    "950200",
			details: map[string]string{"parameter": "filter.fragment.position"},
		},
		{
			name: "malformed body",
			err:  fmt.Errorf("%w: unexpected end of JSON input", queryir.ErrMalformedBody),
			code: ErrCodeMalformed,
		},
		{
			name:    "config",
			err:     WrapExitError(ExitCommandError, "failed to load configuration", &config.Error{Key: "server.port", Reason: "must be between 1 and 65535"}),
			code:    ErrCodeConfig,
			details: map[string]string{"key": "server.port"},
		},
		{
			name: "storage",
			err:  WrapExitError(ExitCommandError, "failed to open database", &store.Error{Op: "connect", Err: errors.New("refused")}),
			code: ErrCodeStorage,
		},
		{
			name: "generic",
			err:  errors.New("boom"),
			code: ErrCodeGeneric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeError(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.details, got.Details)
			assert.NotEmpty(t, got.Message)
		})
	}
}
