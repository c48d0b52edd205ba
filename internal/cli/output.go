package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/driftbox/internal/diff"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/preview"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/validate"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	faint  = color.New(color.Faint)
)

func checkFormat(f string) error {
	switch f {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return errs.Newf(errs.ErrKindInvalidInput, "unknown output format %q, want text, json or yaml", f)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDiff(w io.Writer, d *diff.SchemaDiff) {
	if d.IsEmpty() {
		green.Fprintln(w, "✔ schemas match")
		return
	}

	for _, t := range d.TablesAdded {
		green.Fprintf(w, "+ table %s\n", t)
	}
	for _, t := range d.TablesRemoved {
		red.Fprintf(w, "- table %s\n", t)
	}
	for _, name := range d.ChangedTables() {
		td := d.TablesDiff[name]
		yellow.Fprintf(w, "~ table %s\n", name)
		for _, c := range td.ColumnsAdded {
			green.Fprintf(w, "    + %s\n", c)
		}
		for _, c := range td.ColumnsRemoved {
			red.Fprintf(w, "    - %s\n", c)
		}
		for _, c := range td.ChangedColumns() {
			ch := td.ColumnsDiff[c]
			yellow.Fprintf(w, "    ~ %s", c)
			fmt.Fprintf(w, ": %s → %s\n", describeColumn(ch.From), describeColumn(ch.To))
		}
		for _, fk := range td.ForeignKeysAdded {
			green.Fprintf(w, "    + %s\n", describeKey(fk))
		}
		for _, fk := range td.ForeignKeysRemoved {
			red.Fprintf(w, "    - %s\n", describeKey(fk))
		}
		if td.Policies != nil {
			yellow.Fprintf(w, "    ~ policies")
			fmt.Fprintf(w, ": %d → %d\n", len(td.Policies.From), len(td.Policies.To))
		}
	}
	faint.Fprintln(w, d.Summary())
}

func describeColumn(c *schema.ColumnInfo) string {
	if c == nil {
		return "(none)"
	}
	parts := []string{c.Type}
	if c.MaxLength != nil {
		parts[0] = fmt.Sprintf("%s(%d)", c.Type, *c.MaxLength)
	}
	if !c.IsNullable {
		parts = append(parts, "not null")
	}
	if c.IsPrimaryKey {
		parts = append(parts, "pk")
	}
	if c.DefaultValue != nil {
		parts = append(parts, "default "+*c.DefaultValue)
	}
	if len(c.Permissions) > 0 {
		parts = append(parts, "grants "+strings.Join(c.Permissions, ","))
	}
	return strings.Join(parts, " ")
}

func describeKey(fk schema.ForeignKeyInfo) string {
	return fmt.Sprintf("fk %s → %s(%s)", fk.ColumnName, fk.ReferenceTable, fk.ReferenceColumn)
}

func printProblems(w io.Writer, problems []validate.Problem) {
	for _, p := range problems {
		c := red
		if p.Severity == validate.SeverityWarning {
			c = yellow
		}
		c.Fprintf(w, "✖ statement %d [%s] ", p.Index+1, p.Kind)
		fmt.Fprintln(w, p.Message)
		faint.Fprintf(w, "    %s\n", strings.Join(strings.Fields(p.Statement), " "))
	}
}

func printPreview(w io.Writer, res *preview.Result) {
	reuse := "new"
	if res.Reused {
		reuse = "reused"
	}
	fmt.Fprintf(w, "sandbox %s (%s), %d seed statement(s), %d candidate statement(s)\n",
		res.SandboxID, reuse, len(res.SeedScript), len(res.Script))

	for _, r := range res.Statements {
		switch {
		case r.Skipped:
			faint.Fprintf(w, "  · %s\n", r.Statement)
		case r.Err != nil:
			red.Fprintf(w, "  ✖ %s\n", r.Statement)
			fmt.Fprintf(w, "      %v\n", r.Err)
		default:
			green.Fprintf(w, "  ✔ %s\n", r.Statement)
		}
	}

	if res.Converged {
		green.Fprintln(w, "✔ sandbox matches the target")
		return
	}
	yellow.Fprintln(w, "! sandbox differs from the target:")
	printDiff(w, res.Diff)
}
