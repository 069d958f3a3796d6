package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the bertbuild configuration file
// (~/.config/bertbuild/config.yaml). Numeric fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	SequenceLength   *int64 `yaml:"sequence_length"`
	BatchSizes       string `yaml:"batch_sizes"`
	WorkspaceMiB     *int64 `yaml:"workspace_mib"`
	CalibrationCache string `yaml:"calibration_cache"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bertbuild", "config.yaml")
}

// applyBuildConfig applies config file defaults to build command variables
// when the corresponding CLI flag was not explicitly set.
func applyBuildConfig(c *cli.Command, cfg Config,
	seqLen *int64, batchSizes *string, workspace *int64, calibCache *string,
) {
	if cfg.SequenceLength != nil && !c.IsSet("sequence-length") {
		*seqLen = *cfg.SequenceLength
	}
	if cfg.BatchSizes != "" && !c.IsSet("batch-sizes") {
		*batchSizes = cfg.BatchSizes
	}
	if cfg.WorkspaceMiB != nil && !c.IsSet("workspace-size") {
		*workspace = *cfg.WorkspaceMiB
	}
	if cfg.CalibrationCache != "" && !c.IsSet("calib-cache") {
		*calibCache = cfg.CalibrationCache
	}
	applyLoggingConfig(c, cfg)
}

// applyInspectConfig applies config file defaults to inspect command variables.
func applyInspectConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	applyLoggingConfig(c, cfg)
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
