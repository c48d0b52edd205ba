package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/koustreak/driftbox/internal/ddl"
	"github.com/koustreak/driftbox/internal/errs"
)

func newGenerateCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the PostgreSQL DDL that turns the source into the target",
		Example: `  driftbox generate --source prod.yaml --target next.yaml
  driftbox generate --source postgres://localhost/app --target next.yaml -o migrate.sql --extended`,
		Args: cobra.NoArgs,
	}
	source := addDescriptorFlags(cmd, "source", "schema to migrate from")
	target := addDescriptorFlags(cmd, "target", "schema to migrate to")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the script to a file instead of stdout")
	cmd.Flags().Bool("shell-tables", false, "create new tables empty and add columns one at a time")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		d, to, err := a.compare(cmd, source, target)
		if err != nil {
			return err
		}

		script := lines(ddl.Generate(d, to, ddl.Options{
			Extended:    a.cfg.Sandbox.Extended,
			ShellTables: boolFlag(cmd, "shell-tables", a.cfg.Sandbox.ShellTables),
		}))

		if out == "" {
			_, err := cmd.OutOrStdout().Write([]byte(script))
			return err
		}
		if err := os.WriteFile(out, []byte(script), 0o644); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "write "+out, err)
		}
		green.Fprintf(cmd.ErrOrStderr(), "✔ wrote %s (%s)\n", out, d.Summary())
		return nil
	}
	return cmd
}
