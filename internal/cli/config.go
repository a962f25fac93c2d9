package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/flightbag/internal/logging"
	"github.com/mesh-intelligence/flightbag/internal/paths"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

const configHeader = "# flightbag configuration\n" +
	"# data_dir may be overridden with --data-dir or FLIGHTBAG_DATA_DIR.\n\n"

// fileConfig is the layout of config.yaml.
type fileConfig struct {
	DataDir  string                `yaml:"data_dir,omitempty"`
	Log      logging.Config        `yaml:"log"`
	Bounds   types.Bounds          `yaml:"bounds"`
	Weights  types.Weights         `yaml:"weights"`
	Grid     types.GridConfig      `yaml:"grid"`
	Forehand types.ForehandProfile `yaml:"forehand"`
	Sync     syncFileConfig        `yaml:"sync"`
}

// syncFileConfig spells durations the way people write them.
type syncFileConfig struct {
	FeedURL  string `yaml:"feed_url"`
	FeedFile string `yaml:"feed_file"`
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"`
}

func defaultFileConfig() fileConfig {
	cfg := types.DefaultConfig()
	return fileConfig{
		Log:      logging.Config{Level: "warn", Format: "console"},
		Bounds:   cfg.Bounds,
		Weights:  cfg.Weights,
		Grid:     cfg.Grid,
		Forehand: cfg.Forehand,
		Sync: syncFileConfig{
			Interval: cfg.Sync.Interval.String(),
			Timeout:  cfg.Sync.Timeout.String(),
		},
	}
}

// loadConfig reads config.yaml from configDir, writing a default file on
// first run. Keys missing from the file keep their defaults.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetConfigFile(paths.ConfigFile(configDir))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile creates configDir and a default config.yaml if
// the file does not exist.
func ensureDefaultConfigFile(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	path := paths.ConfigFile(configDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(defaultFileConfig())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0o644)
}

// setDefaults registers every leaf of the default file as a viper default.
func setDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(defaultFileConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := strings.TrimPrefix(prefix+"."+k, ".")
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// decodeConfig turns the merged viper settings into a validated Config.
func decodeConfig(v *viper.Viper) (types.Config, logging.Config, error) {
	var fc struct {
		types.Config `mapstructure:",squash"`
		Log          logging.Config `mapstructure:"log"`
	}
	if err := v.Unmarshal(&fc); err != nil {
		return types.Config{}, logging.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Config.Validate(); err != nil {
		return types.Config{}, logging.Config{}, fmt.Errorf("config %s: %w", v.ConfigFileUsed(), err)
	}
	return fc.Config, fc.Log, nil
}

// watchConfig calls apply with each valid edit of config.yaml. Invalid
// edits are logged and ignored so a typo cannot take down a running sync.
func watchConfig(v *viper.Viper, logger *zap.Logger, apply func(types.Config) error) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, _, err := decodeConfig(v)
		if err == nil {
			err = apply(cfg)
		}
		if err != nil {
			logger.Warn("ignoring config change",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()
}
