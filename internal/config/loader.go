package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrylevesque/equipscan/internal/utils"
)

const (
	// ProjectConfigFile is looked up in the working directory and its parents
	ProjectConfigFile = "equipscan.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/equipscan"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	// home and cwd are overridable for tests
	home string
	cwd  string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	return &Loader{logger: utils.OrDefault(logger), home: home, cwd: cwd}
}

// Load applies, in order: defaults, user config, project config, the
// explicit path (if any), then environment overrides.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	if l.home != "" {
		userPath := filepath.Join(l.home, UserConfigDir, UserConfigFile)
		if userCfg, err := LoadFromFile(userPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userPath))
			cfg.Merge(userCfg)
		} else if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load user config", slog.String("path", userPath), slog.String("error", err.Error()))
		}
	}

	if projectPath := l.findProjectConfig(); projectPath != "" {
		projectCfg, err := LoadFromFile(projectPath)
		if err != nil {
			l.logger.Warn("Failed to load project config", slog.String("path", projectPath), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("Loaded project config", slog.String("path", projectPath))
			cfg.Merge(projectCfg)
		}
	}

	if explicitPath != "" {
		explicit, err := LoadFromFile(explicitPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(explicit)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) findProjectConfig() string {
	if l.cwd == "" {
		return ""
	}
	dir := l.cwd
	for {
		p := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = utils.EnvOrDefault("EQUIPSCAN_ADDR", cfg.Server.Addr)
	cfg.Database.Path = utils.EnvOrDefault("EQUIPSCAN_DB", cfg.Database.Path)
	cfg.NATS.URL = utils.EnvOrDefault("EQUIPSCAN_NATS_URL", cfg.NATS.URL)
	cfg.Log.Level = utils.EnvOrDefault("EQUIPSCAN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = utils.EnvOrDefault("EQUIPSCAN_LOG_FILE", cfg.Log.File)
}

var (
	loaded     *Config
	loadedErr  error
	loadedOnce sync.Once
)

// LoadConfig loads the process-wide configuration once.
func LoadConfig(explicitPath string) (*Config, error) {
	loadedOnce.Do(func() {
		loaded, loadedErr = NewLoader(nil).Load(explicitPath)
	})
	return loaded, loadedErr
}
