package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stateindex/internal/queryir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool      `json:"valid"`
	Error  *CLIError `json:"error,omitempty"`
	Limit  uint64    `json:"limit"`
	Offset uint64    `json:"offset"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <request.json|->",
		Short: "Validate a search request offline",
		Long: `Validate a search request body without touching a database.

Reports the first problem found, with the code and parameter the HTTP API
would answer with. Use - to read the request from stdin.

Exit codes:
  0 - Request is valid
  1 - Request is invalid
  2 - Command error (unreadable file, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	req, err := readRequest(cmd, path)
	if err == nil {
		formatter.VerboseLog("Decoded request from %s", path)
		err = queryir.Validate(req)
	}
	if err != nil {
		cliErr := requestErrorCode(err)
		if outErr := outputValidationError(formatter, cliErr); outErr != nil {
			return outErr
		}
		if GetExitCode(err) == ExitCommandError {
			return err
		}
		return WrapExitError(ExitFailure, "invalid request", err)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Limit: req.Limit, Offset: req.Offset})
	}
	return formatter.Success("✓ Request is valid")
}

func outputValidationError(formatter *OutputFormatter, cliErr *CLIError) error {
	if formatter.Format == "json" {
		return formatter.Error(cliErr.Code, cliErr.Message, cliErr.Details)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ [%s] %s\n", cliErr.Code, cliErr.Message)
	if details, ok := cliErr.Details.(map[string]string); ok && details["parameter"] != "" {
		fmt.Fprintf(w, "  parameter: %s\n", details["parameter"])
	}
	return nil
}
