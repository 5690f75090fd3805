// Package config loads xv6fs's configuration: which device image to
// operate on, how the filesystem should be formatted, and ambient
// logging/cache behavior.
//
// Grounded on the teacher's pkg/config/config.go: a single Config
// struct decoded via viper+mapstructure with a custom ByteSize decode
// hook, YAML file support, DITTOFS_-prefixed env overrides renamed to
// XV6FS_, and the same precedence order (flags > env > file >
// defaults, flags applied by the caller after Load returns).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/xv6fs/xv6fs/internal/bytesize"
)

// Config is xv6fs's full configuration surface.
type Config struct {
	// Device identifies the backing image file.
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Filesystem controls mkfs layout parameters.
	Filesystem FilesystemConfig `mapstructure:"filesystem" yaml:"filesystem"`

	// Cache controls the in-memory buffer cache.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DeviceConfig names the backing store for a mounted filesystem.
type DeviceConfig struct {
	// Path is the image file's location on the host filesystem.
	Path string `mapstructure:"path" yaml:"path"`

	// Size is the image size to create at mkfs time. Supports
	// human-readable formats: "64Mi", "1Gi", "10485760".
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size,omitempty"`
}

// FilesystemConfig controls mkfs layout.
type FilesystemConfig struct {
	// BlockSize records superblock.BSIZE for documentation. It is not
	// configurable per image, and nothing reads or validates it.
	BlockSize uint32 `mapstructure:"block_size" yaml:"block_size"`

	// Inodes is the number of inodes to provision at mkfs time.
	Inodes uint32 `mapstructure:"inodes" yaml:"inodes"`

	// LogBlocks records the number of body blocks in the write-ahead log.
	// mkfs does not read it: the log region always holds
	// superblock.LOGSIZE body blocks plus a header block.
	LogBlocks uint32 `mapstructure:"log_blocks" yaml:"log_blocks"`
}

// CacheConfig controls the in-memory buffer cache.
type CacheConfig struct {
	// Buffers records the number of fixed-size slots in the buffer cache
	// arena. The cache does not read it: the arena always has
	// superblock.NBUF slots.
	Buffers uint32 `mapstructure:"buffers" yaml:"buffers"`
}

// LoggingConfig controls logging and observability behavior.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Metrics names whether the Prometheus collectors for the buffer
	// cache, log, and allocator are enabled. The shell's --metrics flag
	// takes its default from GetDefaultConfig, so a value set in a config
	// file or the environment has no effect.
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`
}

// GetDefaultConfig returns a Config populated with xv6fs's defaults.
func GetDefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Path: "xv6fs.img",
			Size: 64 * bytesize.MiB,
		},
		Filesystem: FilesystemConfig{
			BlockSize: 1024,
			Inodes:    200,
			LogBlocks: 30,
		},
		Cache: CacheConfig{
			Buffers: 30,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Metrics: false,
		},
	}
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. CLI flags (applied by the caller on the returned Config)
//  2. Environment variables (XV6FS_*)
//  3. Configuration file
//  4. Default values
//
// Environment variables override only keys that the configuration file
// sets. When no configuration file is found, Load returns the defaults
// without consulting the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("XV6FS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

// byteSizeDecodeHook converts strings/numbers to bytesize.ByteSize so
// config files can use human-readable sizes like "64Mi" or "1Gi".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xv6fs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "xv6fs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
