package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/replog-io/replog/util"
)

// Config holds the node configuration including tunable protocol options.
type Config struct {
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// Metrics exporter
	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`

	// Commit protocol
	CommitTimeoutMS int `yaml:"commit_timeout_ms" json:"commit.timeout.ms"`
	SweepIntervalMS int `yaml:"sweep_interval_ms" json:"sweep.interval.ms"`

	// Fabric
	InboxBufferSize int `yaml:"inbox_buffer_size" json:"inbox.buffer.size"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	logLevelStr := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	exporterStr := flag.String("exporter", "false", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9100", "Exporter port")
	commitTimeoutStr := flag.String("commit-timeout", "5000", "Commit round timeout in milliseconds (0=disabled)")
	sweepIntervalStr := flag.String("sweep-interval", "1000", "Expired round sweep interval in milliseconds")
	inboxBufferStr := flag.String("inbox-buffer", "128", "Inbound message channel buffer size")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, logLevelStr, exporterStr, exporterPortStr,
		commitTimeoutStr, sweepIntervalStr, inboxBufferStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyExplicitFlags(cfg, logLevelStr, exporterStr, exporterPortStr,
		commitTimeoutStr, sweepIntervalStr, inboxBufferStr)

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func applyDefaults(cfg *Config, logLevelStr, exporterStr, exporterPortStr,
	commitTimeoutStr, sweepIntervalStr, inboxBufferStr *string) {

	cfg.LogLevel = util.ParseLevel(*logLevelStr)
	cfg.EnableExporter = util.ParseBool(*exporterStr, false)
	cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
	cfg.CommitTimeoutMS = util.ParseInt(*commitTimeoutStr, 5000)
	cfg.SweepIntervalMS = util.ParseInt(*sweepIntervalStr, 1000)
	cfg.InboxBufferSize = util.ParseInt(*inboxBufferStr, 128)
}

// applyExplicitFlags re-applies flags whose value differs from the default,
// so command-line settings win over the config file.
func applyExplicitFlags(cfg *Config, logLevelStr, exporterStr, exporterPortStr,
	commitTimeoutStr, sweepIntervalStr, inboxBufferStr *string) {

	if *logLevelStr != "info" {
		cfg.LogLevel = util.ParseLevel(*logLevelStr)
	}
	if *exporterStr != "false" {
		cfg.EnableExporter = util.ParseBool(*exporterStr, false)
	}
	if *exporterPortStr != "9100" {
		cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
	}
	if *commitTimeoutStr != "5000" {
		cfg.CommitTimeoutMS = util.ParseInt(*commitTimeoutStr, 5000)
	}
	if *sweepIntervalStr != "1000" {
		cfg.SweepIntervalMS = util.ParseInt(*sweepIntervalStr, 1000)
	}
	if *inboxBufferStr != "128" {
		cfg.InboxBufferSize = util.ParseInt(*inboxBufferStr, 128)
	}
}

func (cfg *Config) Normalize() {
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	if cfg.CommitTimeoutMS < 0 {
		cfg.CommitTimeoutMS = 0
	}
	if cfg.SweepIntervalMS <= 0 {
		cfg.SweepIntervalMS = 1000
	}
	if cfg.InboxBufferSize <= 0 {
		cfg.InboxBufferSize = 128
	}
}
