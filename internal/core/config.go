package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	// BaseDirName is the default config directory, relative to $HOME
	BaseDirName    = ".config/devbridge"
	ConfigFileName = "config.hcl"
	DatabaseName   = "devbridge.db"
	LogDirName     = "logs"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete devbridge configuration
type Configuration struct {
	ConfigPath    string // Directory containing config file, database and logs
	CompanionPath string // Path to the companion executable
	LogDir        string // Directory for companion stderr logs
	Verbose       int    // Verbosity level
	Spawner       SpawnerConfig
}

// SpawnerConfig represents companion spawn settings
type SpawnerConfig struct {
	HandshakeTimeout time.Duration // Give up waiting for the handshake after this long
	TerminateTimeout time.Duration // Grace period before SIGKILL when stopping a companion
}

// HCL parsing structs

type hclConfig struct {
	Verbose       int         `hcl:"verbose,optional"`
	CompanionPath string      `hcl:"companion_path,optional"`
	LogDir        string      `hcl:"log_dir,optional"`
	Spawner       *hclSpawner `hcl:"spawner,block"`
}

type hclSpawner struct {
	HandshakeTimeout string `hcl:"handshake_timeout,optional"`
	TerminateTimeout string `hcl:"terminate_timeout,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = hclCfg.Verbose

	if hclCfg.CompanionPath != "" {
		cfg.CompanionPath = expandPath(hclCfg.CompanionPath)
	}
	if hclCfg.LogDir != "" {
		cfg.LogDir = expandPath(hclCfg.LogDir)
	}

	if hclCfg.Spawner != nil {
		if hclCfg.Spawner.HandshakeTimeout != "" {
			d, err := time.ParseDuration(hclCfg.Spawner.HandshakeTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid handshake_timeout: %w", err)
			}
			cfg.Spawner.HandshakeTimeout = d
		}
		if hclCfg.Spawner.TerminateTimeout != "" {
			d, err := time.ParseDuration(hclCfg.Spawner.TerminateTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid terminate_timeout: %w", err)
			}
			cfg.Spawner.TerminateTimeout = d
		}
	}

	return cfg, nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		CompanionPath: "idb_companion",
		Spawner: SpawnerConfig{
			HandshakeTimeout: 30 * time.Second,
			TerminateTimeout: 6 * time.Second,
		},
	}
}

// InitializeConfig loads the config file from configPath (or falls back to
// defaults when it doesn't exist) and sets the global Config instance.
// Directories for logs and state are created as a side effect.
func InitializeConfig(configPath string, verbose int) error {
	configFile := filepath.Join(configPath, ConfigFileName)

	var cfg *Configuration
	if ConfigExists(configFile) {
		loaded, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = GetDefaultConfig()
	}

	cfg.ConfigPath = configPath
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(configPath, LogDirName)
	}
	// Command line verbosity wins over config file
	if verbose > 0 {
		cfg.Verbose = verbose
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	Config = cfg
	return nil
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// DatabasePath returns the path to the pid record database
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.ConfigPath, DatabaseName)
}

// CompanionLogPath returns the stderr log file path for a device's companion
func (c *Configuration) CompanionLogPath(udid string) string {
	return filepath.Join(c.LogDir, fmt.Sprintf("companion-%s.log", udid))
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home + path[1:]
	}
	return path
}
