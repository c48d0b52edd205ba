package cli

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/validate"
)

func newValidateCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate <script>",
		Short: "Check a DDL script for syntax errors and forbidden statements",
		Long: `Check a DDL script before it is applied. Every statement is parsed with the
PostgreSQL grammar; DROP DATABASE and DROP SCHEMA are rejected and TRUNCATE
is flagged. All problems are reported, not just the first.

The script is a file path, "-" for stdin, or an s3:// URI.`,
		Example: `  driftbox validate migrate.sql
  cat migrate.sql | driftbox validate -`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json, yaml")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(format); err != nil {
			return err
		}
		defer a.close()

		script, err := a.readScript(cmd.Context(), cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		res := validate.Validate(script)

		w := cmd.OutOrStdout()
		if format != formatText {
			if err := encode(w, format, res); err != nil {
				return err
			}
		} else if res.Valid {
			green.Fprintf(w, "✔ %d statement(s) OK\n", len(res.Statements))
		} else {
			printProblems(w, res.Errors)
		}

		if !res.Valid {
			return errs.Newf(errs.ErrKindValidation, "%d problem(s) in %d statement(s)", len(res.Errors), len(res.Statements))
		}
		return nil
	}
	return cmd
}
