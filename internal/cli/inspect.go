package cli

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/schema"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Dump a normalized schema snapshot",
		Example: `  driftbox inspect --source postgres://localhost/app --out app.yaml
  driftbox inspect --source ./local.db --format json`,
		Args: cobra.NoArgs,
	}
	source := addDescriptorFlags(cmd, "source", "schema to read")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file; .json or .yaml picks the format")
	cmd.Flags().StringVarP(&format, "format", "f", formatYAML, "stdout format: yaml, json")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		defer a.close()

		d, err := source.descriptor()
		if err != nil {
			return err
		}
		s, err := a.schema(cmd.Context(), d)
		if err != nil {
			return err
		}

		if out != "" {
			if err := schema.WriteSnapshot(out, s); err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, "write snapshot", err)
			}
			green.Fprintf(cmd.ErrOrStderr(), "✔ wrote %d table(s) to %s\n", len(s.Tables), out)
			return nil
		}

		f := schema.FormatYAML
		switch format {
		case formatYAML:
		case formatJSON:
			f = schema.FormatJSON
		default:
			return errs.Newf(errs.ErrKindInvalidInput, "unknown snapshot format %q", format)
		}
		return schema.EncodeSnapshot(cmd.OutOrStdout(), s, f)
	}
	return cmd
}
