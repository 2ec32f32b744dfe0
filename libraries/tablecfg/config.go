// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package tablecfg loads the YAML configuration of the deltalog command.
package tablecfg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/dolthub/deltalog/store/blobstore"
	"github.com/dolthub/deltalog/store/commit"
	"github.com/dolthub/deltalog/store/vacuum"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the content of a deltalog config file. Pointer fields distinguish an explicit
// false or zero from an omitted value.
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"`
	// Table is the URL of the table, e.g. s3://bucket/path or /local/path.
	Table   string        `yaml:"table"`
	Storage StorageConfig `yaml:"storage"`
	Commit  CommitConfig  `yaml:"commit"`
	Vacuum  VacuumConfig  `yaml:"vacuum"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type StorageConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	CredentialsFile string `yaml:"credentials_file"`
	// DynamoTable coordinates commits to S3 tables through the named DynamoDB table.
	DynamoTable string `yaml:"dynamo_table"`
}

type CommitConfig struct {
	MaxRetries         int  `yaml:"max_retries" default:"10"`
	CheckpointInterval *int `yaml:"checkpoint_interval" default:"10"`
}

type VacuumConfig struct {
	RetentionPeriod  string `yaml:"retention_period" default:"168h"`
	EnforceRetention *bool  `yaml:"enforce_retention" default:"true"`
	DryRun           *bool  `yaml:"dry_run" default:"true"`
	Parallelism      int    `yaml:"parallelism" default:"8"`
	Audit            *bool  `yaml:"audit" default:"true"`
	HistoryLookback  int64  `yaml:"history_lookback"`
}

type MetricsConfig struct {
	// File receives the Prometheus text exposition of the run's metrics.
	File   string            `yaml:"file"`
	Labels map[string]string `yaml:"labels"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	defaults.MustSet(cfg)
	return cfg
}

// Parse parses and validates a config file. Environment placeholders are expanded first.
func Parse(data []byte) (*Config, error) {
	data, err := interpolateEnv(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, err
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the config file at |path|.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogFormat != LogFormatText && cfg.LogFormat != LogFormatJSON {
		return fmt.Errorf("log_format must be %s or %s, got '%s'", LogFormatText, LogFormatJSON, cfg.LogFormat)
	}
	if _, err := cfg.Vacuum.Retention(); err != nil {
		return err
	}
	if cfg.Commit.MaxRetries < 1 {
		return fmt.Errorf("commit.max_retries must be at least 1")
	}
	if *cfg.Commit.CheckpointInterval < 0 {
		return fmt.Errorf("commit.checkpoint_interval must not be negative")
	}
	if cfg.Vacuum.Parallelism < 1 {
		return fmt.Errorf("vacuum.parallelism must be at least 1")
	}
	return nil
}

// Retention parses the retention period.
func (vc VacuumConfig) Retention() (time.Duration, error) {
	d, err := time.ParseDuration(vc.RetentionPeriod)
	if err != nil {
		return 0, fmt.Errorf("invalid vacuum.retention_period '%s': %w", vc.RetentionPeriod, err)
	}
	return d, nil
}

// ToVacuumConfig converts the vacuum section to a vacuum.Config.
func (cfg *Config) ToVacuumConfig() (vacuum.Config, error) {
	retention, err := cfg.Vacuum.Retention()
	if err != nil {
		return vacuum.Config{}, err
	}
	return vacuum.DefaultConfig().
		WithRetentionPeriod(retention).
		WithEnforceRetentionDuration(*cfg.Vacuum.EnforceRetention).
		WithDryRun(*cfg.Vacuum.DryRun).
		WithParallelism(cfg.Vacuum.Parallelism).
		WithRecordAudit(*cfg.Vacuum.Audit).
		WithHistoryLookback(cfg.Vacuum.HistoryLookback), nil
}

// ToCommitConfig converts the commit section to a commit.Config.
func (cfg *Config) ToCommitConfig() commit.Config {
	cc := commit.DefaultConfig()
	cc.MaxRetries = cfg.Commit.MaxRetries
	cc.CheckpointInterval = *cfg.Commit.CheckpointInterval
	return cc
}

// OpenOptions returns the options for opening the table's storage.
func (cfg *Config) OpenOptions() blobstore.OpenOptions {
	return blobstore.OpenOptions{
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		PathStyle:       cfg.Storage.PathStyle,
		CredentialsFile: cfg.Storage.CredentialsFile,
	}
}

// NewLogger returns a logger with the configured level and format.
func (cfg *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	lgr := logrus.New()
	lgr.SetOutput(os.Stderr)
	lgr.SetLevel(level)
	if cfg.LogFormat == LogFormatJSON {
		lgr.SetFormatter(&logrus.JSONFormatter{})
	} else {
		lgr.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return lgr, nil
}
