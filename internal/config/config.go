// Package config loads abook settings from an optional YAML file and
// ABOOK_ environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/denismitr/abook/internal/logger"
)

const (
	DefaultFile       = "contacts.db"
	DefaultLegacyFile = "contacts.txt"
	EnvPrefix         = "ABOOK"
)

type Config struct {
	File         string         `mapstructure:"file"`
	Format       string         `mapstructure:"format"`
	QueueSize    int            `mapstructure:"queue_size"`
	AtomicWrites bool           `mapstructure:"atomic_writes"`
	Log          logger.Options `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("file", "")
	v.SetDefault("format", "framed")
	v.SetDefault("queue_size", 16)
	v.SetDefault("atomic_writes", true)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "-")
	v.SetDefault("log.format", "console")
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "abook")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "abook")
}

// Load reads path when given, otherwise abook.yaml from the working
// directory or the user config directory. A missing default file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("abook")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "could not read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}

	if cfg.File == "" {
		cfg.File = DefaultFileFor(cfg.Format)
	}

	return &cfg, nil
}

func DefaultFileFor(format string) string {
	if format == "legacy" {
		return DefaultLegacyFile
	}

	return DefaultFile
}

// SetFormat switches the backing file format. A file name that was only
// defaulted follows the new format.
func (c *Config) SetFormat(format string) {
	if c.File == DefaultFileFor(c.Format) {
		c.File = DefaultFileFor(format)
	}

	c.Format = format
}
