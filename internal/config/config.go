// Package config loads driftbox settings from a YAML file, a .env file and
// DRIFTBOX_* environment variables, in increasing order of precedence.
// Command-line flags bound to the viper instance win over all of them.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/sandbox"
)

const envPrefix = "DRIFTBOX"

// Config is the full driftbox configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Container ContainerConfig `mapstructure:"container"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Filestore FilestoreConfig `mapstructure:"filestore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SandboxConfig struct {
	Backend      string        `mapstructure:"backend"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	Extended     bool          `mapstructure:"extended"`
	Atomic       bool          `mapstructure:"atomic"`
	ShellTables  bool          `mapstructure:"shell_tables"`
}

type ContainerConfig struct {
	DockerHost   string        `mapstructure:"docker_host"`
	Image        string        `mapstructure:"image"`
	Password     string        `mapstructure:"password"`
	PortStrategy string        `mapstructure:"port_strategy"`
	BasePort     int           `mapstructure:"base_port"`
	PortRange    int           `mapstructure:"port_range"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	MemoryLimit  int64         `mapstructure:"memory_limit"`
	Roles        []string      `mapstructure:"roles"`
}

type DatabaseConfig struct {
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

type FilestoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
}

const (
	PortsEphemeral  = "ephemeral"
	PortsSequential = "sequential"
)

// New returns a viper instance carrying every key's default and reading
// DRIFTBOX_* variables, e.g. DRIFTBOX_SANDBOX_BACKEND for sandbox.backend.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("sandbox.backend", string(sandbox.KindMemory))
	v.SetDefault("sandbox.idle_timeout", 30*time.Minute)
	v.SetDefault("sandbox.reap_interval", time.Minute)
	v.SetDefault("sandbox.extended", false)
	v.SetDefault("sandbox.atomic", false)
	v.SetDefault("sandbox.shell_tables", false)

	def := sandbox.DefaultContainerConfig()
	v.SetDefault("container.docker_host", "")
	v.SetDefault("container.image", def.Image)
	v.SetDefault("container.password", "")
	v.SetDefault("container.port_strategy", PortsEphemeral)
	v.SetDefault("container.base_port", 55432)
	v.SetDefault("container.port_range", 100)
	v.SetDefault("container.ready_timeout", def.StartTimeout)
	v.SetDefault("container.memory_limit", 0)
	v.SetDefault("container.roles", []string{})

	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.query_timeout", 30*time.Second)

	v.SetDefault("filestore.endpoint", "")
	v.SetDefault("filestore.access_key", "")
	v.SetDefault("filestore.secret_key", "")
	v.SetDefault("filestore.use_ssl", false)
	v.SetDefault("filestore.region", "")
	v.SetDefault("filestore.bucket", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration into v and decodes it. path names a config
// file; when empty, ./driftbox.yaml is used if present. A .env file in the
// working directory is loaded into the environment first; variables that
// are already set keep their values.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "load .env", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config "+path, err)
		}
	} else {
		v.SetConfigName("driftbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	var problems []string

	if _, err := sandbox.ParseKind(c.Sandbox.Backend); err != nil {
		problems = append(problems, "sandbox.backend must be memory, hybrid or container, got "+c.Sandbox.Backend)
	}
	switch c.Container.PortStrategy {
	case PortsEphemeral, PortsSequential:
	default:
		problems = append(problems, "container.port_strategy must be ephemeral or sequential, got "+c.Container.PortStrategy)
	}
	if c.Container.PortStrategy == PortsSequential && (c.Container.BasePort <= 0 || c.Container.BasePort+c.Container.PortRange > 65536) {
		problems = append(problems, "container.base_port and container.port_range must stay within 1-65535")
	}
	if c.Sandbox.IdleTimeout <= 0 {
		problems = append(problems, "sandbox.idle_timeout must be positive")
	}
	if c.Sandbox.ReapInterval <= 0 {
		problems = append(problems, "sandbox.reap_interval must be positive")
	}

	if len(problems) > 0 {
		return errs.WithDetails(errs.ErrKindInvalidInput, "invalid configuration", problems)
	}
	return nil
}
