package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stateindex/internal/queryir"
)

// readRequest reads and decodes a search request body from path, or from
// stdin when path is "-". Decoding failures are returned unwrapped so their
// validation code survives; read failures are command errors.
func readRequest(cmd *cobra.Command, path string) (*queryir.SearchRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("request file not found: %s", path), Err: err}
		}
		return nil, WrapExitError(ExitCommandError, "failed to read request", err)
	}
	return queryir.ParseSearchRequest(data)
}

// requestErrorCode picks the response code of a readRequest failure.
func requestErrorCode(err error) *CLIError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == ExitCommandError {
		if errors.Is(err, fs.ErrNotExist) {
			return &CLIError{Code: ErrCodeNotFound, Message: exitErr.Message}
		}
		return &CLIError{Code: ErrCodeReadFailed, Message: err.Error()}
	}
	return describeError(err)
}
