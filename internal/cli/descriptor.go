package cli

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/filestore"
	"github.com/koustreak/driftbox/internal/introspect"
)

// descriptorFlags binds --<name>, --<name>-driver and --<name>-schema.
type descriptorFlags struct {
	name   string
	dsn    string
	driver string
	schema string
}

func addDescriptorFlags(cmd *cobra.Command, name, usage string) *descriptorFlags {
	d := &descriptorFlags{name: name}
	cmd.Flags().StringVar(&d.dsn, name, "", usage)
	cmd.Flags().StringVar(&d.driver, name+"-driver", "", "driver for --"+name+": postgres, mysql, sqlite, snapshot (inferred when empty)")
	cmd.Flags().StringVar(&d.schema, name+"-schema", "", "namespace to read from --"+name)
	return d
}

func (d *descriptorFlags) descriptor() (introspect.Descriptor, error) {
	if d.dsn == "" {
		return introspect.Descriptor{}, errs.Newf(errs.ErrKindInvalidInput, "--%s is required", d.name)
	}
	driver := d.driver
	if driver == "" {
		driver = inferDriver(d.dsn)
	}
	if driver == "" {
		return introspect.Descriptor{}, errs.Newf(errs.ErrKindInvalidInput,
			"cannot tell the driver of --%s, set --%s-driver", d.name, d.name)
	}
	return introspect.Descriptor{Driver: driver, DSN: d.dsn, Schema: d.schema}, nil
}

func inferDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case filestore.IsURI(dsn):
		return introspect.DriverSnapshot
	case strings.HasPrefix(lower, "file:"):
		return "sqlite"
	case strings.Contains(lower, "@tcp("), strings.Contains(lower, "@unix("):
		return "mysql"
	}

	switch filepath.Ext(lower) {
	case ".yaml", ".yml", ".json":
		return introspect.DriverSnapshot
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	}
	return ""
}
