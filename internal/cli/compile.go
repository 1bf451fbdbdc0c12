package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/querysql"
	"github.com/roach88/stateindex/internal/search"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Dialect string
}

// CompileResult is the compiled form of a search request.
type CompileResult struct {
	Dialect string `json:"dialect"`
	Where   string `json:"where"`
	Order   string `json:"order"`
	Limit   uint64 `json:"limit"`
	Offset  uint64 `json:"offset"`
	SQL     string `json:"sql"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <request.json|->",
		Short: "Compile a search request to SQL",
		Long: `Compile a search request body into the WHERE and ORDER BY clauses the
store would run, without touching a database.

The sort is completed with the base sort, as for a real search. The
printed statement fetches one row more than the limit to detect a next
page. Use - to read the request from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dialect, "dialect", string(querysql.Postgres), "SQL dialect (postgres|sqlite3)")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dialect, err := querysql.ParseDialect(opts.Dialect)
	if err != nil {
		if outErr := formatter.Error(ErrCodeGeneric, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "invalid dialect", err)
	}

	req, err := readRequest(cmd, path)
	if err != nil {
		return compileFailed(formatter, err)
	}

	q, err := search.NewService(nil, dialect, zap.NewNop()).Prepare(req)
	if err != nil {
		return compileFailed(formatter, err)
	}
	formatter.VerboseLog("Compiled request from %s for %s", path, dialect)

	result := CompileResult{
		Dialect: string(dialect),
		Where:   q.Where,
		Order:   q.Order,
		Limit:   req.Limit,
		Offset:  req.Offset,
		SQL:     q.SQL(),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "WHERE     %s\n", result.Where)
	fmt.Fprintf(w, "ORDER BY  %s\n", result.Order)
	fmt.Fprintf(w, "LIMIT     %d\n", result.Limit)
	fmt.Fprintf(w, "OFFSET    %d\n", result.Offset)
	fmt.Fprintf(w, "SQL       %s\n", result.SQL)
	return nil
}

func compileFailed(formatter *OutputFormatter, err error) error {
	cliErr := requestErrorCode(err)
	if outErr := formatter.Error(cliErr.Code, cliErr.Message, cliErr.Details); outErr != nil {
		return outErr
	}
	if GetExitCode(err) == ExitCommandError {
		return err
	}
	return WrapExitError(ExitFailure, "compilation failed", err)
}
