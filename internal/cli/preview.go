package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/koustreak/driftbox/internal/logger"
	"github.com/koustreak/driftbox/internal/preview"
	"github.com/koustreak/driftbox/internal/registry"
)

func newPreviewCmd(a *app) *cobra.Command {
	var (
		user       string
		scriptPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Dry-run a migration in a sandbox and verify it reaches the target",
		Long: `Seed a sandbox with the source schema, apply a migration, and diff the
sandbox against the target. Without --script the migration is synthesized
from the two schemas.

The sandbox backend is chosen with --backend or sandbox.backend: memory
(in-process), hybrid (in-process, live sources through cached connections)
or container (a PostgreSQL container on the local Docker daemon).`,
		Example: `  driftbox preview --source prod.yaml --target next.yaml
  driftbox preview --source prod.yaml --target next.yaml --script migrate.sql --atomic
  driftbox preview --backend container --source postgres://localhost/app --target next.yaml`,
		Args: cobra.NoArgs,
	}
	source := addDescriptorFlags(cmd, "source", "schema the sandbox starts from")
	target := addDescriptorFlags(cmd, "target", "schema the migration should reach")
	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", `candidate migration: a file, "-" for stdin, or s3://`)
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user key owning the sandbox")
	cmd.Flags().Bool("atomic", false, "apply each script in one transaction")
	cmd.Flags().Bool("shell-tables", false, "synthesize new tables empty and add columns one at a time")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json, yaml")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		defer a.close()

		if err := checkFormat(format); err != nil {
			return err
		}
		src, err := source.descriptor()
		if err != nil {
			return err
		}
		tgt, err := target.descriptor()
		if err != nil {
			return err
		}

		var script string
		if scriptPath != "" {
			if script, err = a.readScript(ctx, cmd.InOrStdin(), scriptPath); err != nil {
				return err
			}
		}

		resolver, err := a.resolver(ctx, true)
		if err != nil {
			return err
		}
		prov, closeProv, err := a.provisioner()
		if err != nil {
			return err
		}
		defer closeProv()

		log := logger.FromContext(ctx).With().Str("user", user).Logger()
		reg := registry.New(prov, a.cfg.Registry(log))
		stop := reg.Start(ctx)
		defer func() {
			stop()
			if err := reg.Close(ctx); err != nil {
				log.WarnWith("discard sandboxes", err, nil)
			}
		}()

		o := preview.New(reg, resolver, preview.Options{
			Extended:    a.cfg.Sandbox.Extended,
			ShellTables: boolFlag(cmd, "shell-tables", a.cfg.Sandbox.ShellTables),
			Atomic:      boolFlag(cmd, "atomic", a.cfg.Sandbox.Atomic),
		}, log)

		res, err := o.Preview(ctx, preview.Request{Key: user, Source: src, Target: tgt, Script: script})
		w := cmd.OutOrStdout()
		if err != nil {
			if len(res.Problems) > 0 && format == formatText {
				printProblems(w, res.Problems)
			}
			return err
		}

		if format != formatText {
			return encode(w, format, res)
		}
		printPreview(w, res)
		return nil
	}
	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "driftbox"
}
