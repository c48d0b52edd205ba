package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/database/postgres"
	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/logger"
	"github.com/koustreak/driftbox/internal/schema"
)

const (
	containerPrefix = "driftbox-"
	postgresPort    = nat.Port("5432/tcp")

	labelSandbox = "driftbox.sandbox"
	labelKey     = "driftbox.key"
)

// Conn is the connection a container sandbox drives. postgres.Driver
// satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Begin(ctx context.Context) (database.Tx, error)
	Introspect(ctx context.Context, opts database.IntrospectOptions) (*schema.DatabaseSchema, error)
	Close()
}

// DialFunc connects to a freshly started sandbox database.
type DialFunc func(ctx context.Context, cfg *database.Config) (Conn, error)

func dialPostgres(ctx context.Context, cfg *database.Config) (Conn, error) {
	d, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ContainerConfig describes the PostgreSQL server each sandbox runs.
type ContainerConfig struct {
	Image    string
	User     string
	Password string // empty generates one per sandbox
	Database string

	MemoryLimit  int64
	StartTimeout time.Duration
	Backoff      Backoff

	// Roles are created NOLOGIN at startup so policies and grants that
	// name them can be applied.
	Roles []string

	Extended bool
}

func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Image:        "postgres:16-alpine",
		User:         "postgres",
		Database:     "postgres",
		StartTimeout: 30 * time.Second,
		Backoff:      DefaultBackoff(),
	}
}

// ContainerProvisioner starts one PostgreSQL container per sandbox.
type ContainerProvisioner struct {
	Engine Engine
	Ports  PortAllocator
	Config ContainerConfig

	// Dial defaults to the pgx driver.
	Dial DialFunc
	Log  *logger.Logger
}

func (p *ContainerProvisioner) Kind() Kind { return KindContainer }

// Provision starts a container and waits for its database to accept
// connections. Anything started is torn down again if a later step fails.
func (p *ContainerProvisioner) Provision(ctx context.Context, key string) (sb Sandbox, err error) {
	cfg := p.config()
	ports := p.ports()
	log := p.log()

	id := uuid.NewString()
	log = log.With().Str("sandbox_id", id).Str("key", key).Logger()

	port, err := ports.Allocate()
	if err != nil {
		return nil, err
	}

	var containerID string
	defer func() {
		if err == nil {
			return
		}
		if containerID != "" {
			rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if rmErr := p.Engine.Remove(rmCtx, containerID); rmErr != nil {
				log.WarnWith("remove failed sandbox container", rmErr, map[string]interface{}{"container_id": shortID(containerID)})
			}
			cancel()
		}
		ports.Release(port)
		log.ErrorWith("provision sandbox", err, nil)
	}()

	if err = p.Engine.EnsureImage(ctx, cfg.Image); err != nil {
		return nil, err
	}

	password := cfg.Password
	if password == "" {
		password = uuid.NewString()
	}

	spec := ContainerSpec{
		Name:  containerPrefix + id,
		Image: cfg.Image,
		Env: []string{
			"POSTGRES_USER=" + cfg.User,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + cfg.Database,
		},
		Labels:      map[string]string{labelSandbox: id, labelKey: key},
		Port:        postgresPort,
		HostPort:    port,
		MemoryLimit: cfg.MemoryLimit,
	}
	if containerID, err = p.Engine.Create(ctx, spec); err != nil {
		return nil, err
	}
	if err = p.Engine.Start(ctx, containerID); err != nil {
		return nil, err
	}

	hostPort, err := p.Engine.HostPort(ctx, containerID, postgresPort)
	if err != nil {
		return nil, err
	}
	dsn := containerDSN(cfg.User, password, hostPort, cfg.Database)

	start := time.Now()
	conn, err := waitReady(ctx, cfg.StartTimeout, cfg.Backoff, func(ctx context.Context) (Conn, error) {
		return p.dial()(ctx, database.DefaultConfig(database.DriverPostgres, dsn))
	})
	if err != nil {
		return nil, err
	}

	for _, role := range cfg.Roles {
		stmt := "CREATE ROLE " + pgx.Identifier{role}.Sanitize() + " NOLOGIN"
		if err = conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, errs.Wrap(errs.ErrKindProvisioning, "create role "+role, err)
		}
	}

	log.InfoWith("sandbox container ready", map[string]interface{}{
		"container_id": shortID(containerID),
		"port":         hostPort,
		"startup":      time.Since(start).String(),
	})

	return &Container{
		id:          id,
		containerID: containerID,
		dsn:         dsn,
		port:        port,
		extended:    cfg.Extended,
		conn:        conn,
		engine:      p.Engine,
		ports:       ports,
		log:         log,
	}, nil
}

func (p *ContainerProvisioner) config() ContainerConfig {
	cfg := p.Config
	def := DefaultContainerConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.User == "" {
		cfg.User = def.User
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	return cfg
}

func (p *ContainerProvisioner) ports() PortAllocator {
	if p.Ports == nil {
		return EphemeralPorts{}
	}
	return p.Ports
}

func (p *ContainerProvisioner) dial() DialFunc {
	if p.Dial == nil {
		return dialPostgres
	}
	return p.Dial
}

func (p *ContainerProvisioner) log() *logger.Logger {
	if p.Log == nil {
		return logger.Nop()
	}
	return p.Log
}

func containerDSN(user, password string, port int, db string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     "127.0.0.1:" + strconv.Itoa(port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Container is a sandbox backed by a PostgreSQL container.
type Container struct {
	id          string
	containerID string
	dsn         string
	port        int
	extended    bool

	conn   Conn
	engine Engine
	ports  PortAllocator
	log    *logger.Logger

	once       sync.Once
	discardErr error
}

func (c *Container) ID() string { return c.id }
func (c *Container) Kind() Kind { return KindContainer }

// DSN connects to the sandbox database. It carries the password.
func (c *Container) DSN() string { return c.dsn }

func (c *Container) Apply(ctx context.Context, stmts []string, opts ApplyOptions) ([]StatementResult, error) {
	if !opts.Atomic {
		return applyBestEffort(ctx, stmts, func(ctx context.Context, stmt string) error {
			return c.conn.Exec(ctx, stmt)
		})
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindApply, "begin transaction", err)
	}
	results, err := applyAtomic(ctx, stmts, func(ctx context.Context, stmt string) error {
		return tx.Exec(ctx, stmt)
	})
	if err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			c.log.WarnWith("rollback failed", rbErr, nil)
		}
		return results, err
	}
	if err := tx.Commit(ctx); err != nil {
		return results, errs.Wrap(errs.ErrKindApply, "commit", err)
	}
	return results, nil
}

func (c *Container) Introspect(ctx context.Context) (*schema.DatabaseSchema, error) {
	s, err := c.conn.Introspect(ctx, database.IntrospectOptions{Extended: c.extended})
	if err != nil {
		return nil, errs.Rekind(errs.ErrKindIntrospection, fmt.Sprintf("introspect sandbox %s", c.id), err)
	}
	return s, nil
}

// Discard closes the connection, removes the container and frees its
// port. Later calls return the first call's result.
func (c *Container) Discard(ctx context.Context) error {
	c.once.Do(func() {
		c.conn.Close()
		c.discardErr = c.engine.Remove(ctx, c.containerID)
		c.ports.Release(c.port)
		if c.discardErr != nil {
			c.log.WarnWith("discard sandbox", c.discardErr, nil)
		} else {
			c.log.Info("sandbox discarded")
		}
	})
	return c.discardErr
}
