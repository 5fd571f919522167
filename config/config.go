// Package config loads worlded settings from worlded.yaml and WORLDED_*
// environment variables and builds the application logger.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FileName  = "worlded"
	EnvPrefix = "WORLDED"
)

// Default is the commented default config file.
//
//go:embed worlded.yaml
var Default []byte

type Log struct {
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
	// MaxSizeMB, MaxBackups and MaxAgeDays configure file rotation.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

type Config struct {
	// MapPaths are extra directories searched for lot maps given by
	// bare file name.
	MapPaths       []string `mapstructure:"map_paths"`
	ThumbnailWidth int      `mapstructure:"thumbnail_width"`
	UndoLimit      int      `mapstructure:"undo_limit"`
	Workers        int      `mapstructure:"workers"`
	Use256         bool     `mapstructure:"use256"`
	// Renderer is "direct" or "vbo".
	Renderer string `mapstructure:"renderer"`
	Log      Log    `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("map_paths", []string{})
	v.SetDefault("thumbnail_width", 512)
	v.SetDefault("undo_limit", 100)
	v.SetDefault("workers", runtime.GOMAXPROCS(0))
	v.SetDefault("use256", false)
	v.SetDefault("renderer", "vbo")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads path when it is set, otherwise worlded.yaml from the working
// directory or $HOME/.config/worlded. A missing search-path file is not an
// error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "worlded"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes the default config file to path unless a file is
// already there.
func WriteDefault(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	if _, err := f.Write(Default); err != nil {
		f.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return f.Close()
}

func (c *Config) Validate() error {
	if c.ThumbnailWidth <= 0 {
		return fmt.Errorf("config: thumbnail_width must be positive, got %d", c.ThumbnailWidth)
	}
	if c.UndoLimit <= 0 {
		return fmt.Errorf("config: undo_limit must be positive, got %d", c.UndoLimit)
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	switch c.Renderer {
	case "direct", "vbo":
	default:
		return fmt.Errorf("config: unknown renderer %q", c.Renderer)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	return nil
}

// FindMap resolves a bare lot map name against MapPaths. Paths with a
// directory part and names that are not found are returned unchanged.
func (c *Config) FindMap(name string) string {
	if filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}
	for _, dir := range c.MapPaths {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return name
}

// NewLogger builds a zap logger writing to stderr and, when Log.File is
// set, to a rotated log file.
func NewLogger(l Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}

	var encCfg zapcore.EncoderConfig
	if l.Format == "json" {
		encCfg = zap.NewProductionEncoderConfig()
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	newEncoder := func() zapcore.Encoder {
		if l.Format == "json" {
			return zapcore.NewJSONEncoder(encCfg)
		}
		return zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), level),
	}
	if l.File != "" {
		rot := &lumberjack.Logger{
			Filename:   l.File,
			MaxSize:    l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAge:     l.MaxAgeDays,
		}
		// Files always get JSON so they can be grepped by field.
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(rot), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
