package cli

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/driftbox/internal/diff"
	"github.com/koustreak/driftbox/internal/schema"
)

func newDiffCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show how the target schema differs from the source",
		Example: `  driftbox diff --source prod.yaml --target dev.yaml
  driftbox diff --source postgres://localhost/app --target next.yaml --format json`,
		Args: cobra.NoArgs,
	}
	source := addDescriptorFlags(cmd, "source", "schema to migrate from")
	target := addDescriptorFlags(cmd, "target", "schema to migrate to")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json, yaml")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(format); err != nil {
			return err
		}
		d, _, err := a.compare(cmd, source, target)
		if err != nil {
			return err
		}
		if format != formatText {
			return encode(cmd.OutOrStdout(), format, d)
		}
		printDiff(cmd.OutOrStdout(), d)
		return nil
	}
	return cmd
}

// compare reads both schemas and diffs them. The target schema is
// returned for DDL synthesis.
func (a *app) compare(cmd *cobra.Command, source, target *descriptorFlags) (*diff.SchemaDiff, *schema.DatabaseSchema, error) {
	ctx := cmd.Context()
	defer a.close()

	src, err := source.descriptor()
	if err != nil {
		return nil, nil, err
	}
	tgt, err := target.descriptor()
	if err != nil {
		return nil, nil, err
	}

	from, err := a.schema(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	to, err := a.schema(ctx, tgt)
	if err != nil {
		return nil, nil, err
	}
	return diff.Compare(from, to), to, nil
}
