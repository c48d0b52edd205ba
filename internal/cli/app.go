package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/koustreak/driftbox/internal/config"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/filestore"
	"github.com/koustreak/driftbox/internal/filestore/minio"
	"github.com/koustreak/driftbox/internal/introspect"
	"github.com/koustreak/driftbox/internal/logger"
	"github.com/koustreak/driftbox/internal/sandbox"
	"github.com/koustreak/driftbox/internal/schema"
)

// app carries what every command shares once configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger

	store filestore.Store
}

func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.New(cfg.Logger())
	return nil
}

// objectStore connects to object storage on first use. It returns nil
// when none is configured.
func (a *app) objectStore(ctx context.Context) (filestore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	fc := a.cfg.ObjectStore()
	if fc == nil {
		return nil, nil
	}
	d, err := minio.New(ctx, fc)
	if err != nil {
		return nil, err
	}
	a.store = d
	return d, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WarnWith("close object store", err, nil)
		}
	}
}

func (a *app) resolver(ctx context.Context, needStore bool) (*introspect.Resolver, error) {
	r := &introspect.Resolver{
		Extended: a.cfg.Sandbox.Extended,
		Pool:     a.cfg.Pool,
	}
	if needStore {
		store, err := a.objectStore(ctx)
		if err != nil {
			return nil, err
		}
		r.Store = store
		r.DefaultBucket = a.cfg.Filestore.Bucket
	}
	return r, nil
}

// schema reads the schema d describes.
func (a *app) schema(ctx context.Context, d introspect.Descriptor) (*schema.DatabaseSchema, error) {
	r, err := a.resolver(ctx, filestore.IsURI(d.DSN))
	if err != nil {
		return nil, err
	}
	h, err := r.Resolve(ctx, d)
	if err != nil {
		return nil, err
	}
	return h.Schema(ctx)
}

// readScript loads a script from a file, stdin ("-") or an s3:// URI.
func (a *app) readScript(ctx context.Context, in io.Reader, path string) (string, error) {
	switch {
	case path == "-":
		b, err := io.ReadAll(in)
		if err != nil {
			return "", errs.Wrap(errs.ErrKindInvalidInput, "read script from stdin", err)
		}
		return string(b), nil
	case filestore.IsURI(path):
		store, err := a.objectStore(ctx)
		if err != nil {
			return "", err
		}
		if store == nil {
			return "", errs.Newf(errs.ErrKindInvalidInput, "script %s needs object storage, none configured", path)
		}
		b, err := filestore.ReadURI(ctx, store, path, a.cfg.Filestore.Bucket)
		return string(b), err
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", errs.Wrap(errs.ErrKindInvalidInput, "read script "+path, err)
		}
		return string(b), nil
	}
}

// provisioner builds the configured sandbox backend. The returned func
// releases what the backend holds beyond its sandboxes.
func (a *app) provisioner() (sandbox.Provisioner, func(), error) {
	extended := a.cfg.Sandbox.Extended
	switch a.cfg.Backend() {
	case sandbox.KindHybrid:
		return &sandbox.HybridProvisioner{Extended: extended, Open: introspect.Open, Pool: a.cfg.Pool}, func() {}, nil
	case sandbox.KindContainer:
		engine, err := sandbox.NewDockerEngine(a.cfg.Container.DockerHost)
		if err != nil {
			return nil, nil, err
		}
		p := &sandbox.ContainerProvisioner{
			Engine: engine,
			Ports:  a.cfg.Ports(),
			Config: a.cfg.ContainerSandbox(),
			Log:    a.log,
		}
		return p, func() { engine.Close() }, nil
	default:
		return &sandbox.MemoryProvisioner{Extended: extended}, func() {}, nil
	}
}

func lines(stmts []string) string {
	if len(stmts) == 0 {
		return ""
	}
	return strings.Join(stmts, "\n") + "\n"
}

// boolFlag is the flag's value when it was given, else def.
func boolFlag(cmd *cobra.Command, name string, def bool) bool {
	if !cmd.Flags().Changed(name) {
		return def
	}
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		return def
	}
	return v
}
