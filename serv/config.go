package serv

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/qbloq/livesql/core"
)

// Core is the embedded engine configuration.
type Core = core.Config

// Config holds the configuration for the livesql service
type Config struct {
	// Configuration for the query engine core
	Core `mapstructure:",squash"`

	// Configuration for the service
	Serv `mapstructure:",squash"`

	hostPort string
	vi       *viper.Viper
}

// Serv is the service-level part of the configuration
type Serv struct {
	// Application name is used in log and debug messages
	AppName string `mapstructure:"app_name"`

	// When enabled the service logs in JSON and the config watcher is
	// disabled
	Production bool

	// Host and port the HTTP server binds to
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`

	// Tables the engine serves, by name
	TableNames []string `mapstructure:"tables"`

	// Database connection settings
	DB Database `mapstructure:"database"`

	// Timeout for the initial database ping
	DBPingTimeout time.Duration `mapstructure:"db_ping_timeout"`

	// CORS allowed origins for browser clients
	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Outbound buffer size of one subscription channel; a subscriber
	// that falls this far behind is treated as gone and pruned
	SubBufferSize int `mapstructure:"sub_buffer_size"`
}

// Database is the connection configuration for the backing database
type Database struct {
	Type       string `mapstructure:"type"`
	ConnString string `mapstructure:"conn_string"`

	PoolSize     int           `mapstructure:"pool_size"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

const configName = "livesql"

// GetConfigName returns the base name of the config file the service looks
// for in the config path.
func GetConfigName() string { return configName }

// ReadInConfig reads the configuration from the given path using the OS
// filesystem.
func ReadInConfig(configPath string) (*Config, error) {
	return ReadInConfigFS(configPath, nil)
}

// ReadInConfigFS reads the configuration from the given path, optionally
// through an afero filesystem (used by tests).
func ReadInConfigFS(configPath string, fs afero.Fs) (*Config, error) {
	vi := newViper(configPath, configName)
	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	c := &Config{vi: vi}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// The engine and the connection layer share the database type.
	if c.Core.DBType == "" {
		c.Core.DBType = c.DB.Type
	}
	for _, name := range c.TableNames {
		c.Core.Tables = append(c.Core.Tables, core.Table{Name: name})
	}

	c.hostPort = c.Host + ":" + c.Port
	return c, nil
}

// ConfigFileUsed returns the path of the config file the service loaded.
func (c *Config) ConfigFileUsed() string {
	if c.vi == nil {
		return ""
	}
	return c.vi.ConfigFileUsed()
}

// RegisterTableDecoder attaches a typed row decoder to a configured table.
func (c *Config) RegisterTableDecoder(table string, decode core.RowDecoder) error {
	for i := range c.Core.Tables {
		if c.Core.Tables[i].Name == table {
			c.Core.Tables[i].Decode = decode
			return nil
		}
	}
	return fmt.Errorf("table %q not configured", table)
}

func newViper(configPath, configName string) *viper.Viper {
	vi := viper.New()

	vi.SetEnvPrefix("LS")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	if filepath.Ext(configName) != "" {
		vi.SetConfigFile(filepath.Join(configPath, configName))
	} else {
		vi.SetConfigName(configName)
		vi.AddConfigPath(configPath)
		vi.AddConfigPath("./config")
	}

	vi.SetDefault("app_name", "livesql")
	vi.SetDefault("host", "0.0.0.0")
	vi.SetDefault("port", "8080")
	vi.SetDefault("database.type", "sqlite")
	vi.SetDefault("database.pool_size", 10)
	vi.SetDefault("database.max_idle_conns", 5)
	vi.SetDefault("db_ping_timeout", 5*time.Second)
	vi.SetDefault("sub_buffer_size", 64)

	return vi
}
