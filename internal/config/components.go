package config

import (
	"github.com/koustreak/driftbox/internal/database"
	"github.com/koustreak/driftbox/internal/filestore"
	"github.com/koustreak/driftbox/internal/logger"
	"github.com/koustreak/driftbox/internal/registry"
	"github.com/koustreak/driftbox/internal/sandbox"
)

// Logger builds the logger configuration.
func (c *Config) Logger() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

// Pool returns connection settings for a live source or target.
func (c *Config) Pool(driver database.Driver, dsn string) *database.Config {
	pc := database.DefaultConfig(driver, dsn)
	if c.Database.MaxConns > 0 {
		pc.MaxConns = c.Database.MaxConns
	}
	if c.Database.ConnectTimeout > 0 {
		pc.ConnectTimeout = c.Database.ConnectTimeout
	}
	if c.Database.QueryTimeout > 0 {
		pc.QueryTimeout = c.Database.QueryTimeout
	}
	return pc
}

// ObjectStore returns object storage settings, or nil when no endpoint is
// configured.
func (c *Config) ObjectStore() *filestore.Config {
	f := c.Filestore
	if f.Endpoint == "" {
		return nil
	}
	fc := filestore.DefaultConfig(f.Endpoint, f.AccessKey, f.SecretKey)
	fc.UseSSL = f.UseSSL
	fc.Region = f.Region
	fc.DefaultBucket = f.Bucket
	return fc
}

// Registry returns the registry timing settings.
func (c *Config) Registry(log *logger.Logger) registry.Config {
	return registry.Config{
		IdleTimeout:  c.Sandbox.IdleTimeout,
		ReapInterval: c.Sandbox.ReapInterval,
		Log:          log,
	}
}

// Backend returns the configured sandbox kind.
func (c *Config) Backend() sandbox.Kind {
	k, err := sandbox.ParseKind(c.Sandbox.Backend)
	if err != nil {
		return sandbox.KindMemory
	}
	return k
}

// ContainerSandbox returns the container sandbox settings.
func (c *Config) ContainerSandbox() sandbox.ContainerConfig {
	cc := sandbox.DefaultContainerConfig()
	if c.Container.Image != "" {
		cc.Image = c.Container.Image
	}
	cc.Password = c.Container.Password
	cc.MemoryLimit = c.Container.MemoryLimit
	if c.Container.ReadyTimeout > 0 {
		cc.StartTimeout = c.Container.ReadyTimeout
	}
	cc.Roles = c.Container.Roles
	cc.Extended = c.Sandbox.Extended
	return cc
}

// Ports returns the host port allocator for container sandboxes.
func (c *Config) Ports() sandbox.PortAllocator {
	if c.Container.PortStrategy == PortsSequential {
		return sandbox.NewSequentialPorts(c.Container.BasePort, c.Container.PortRange)
	}
	return sandbox.EphemeralPorts{}
}
