// Package config holds the Engine's runtime configuration and the loader
// for a YAML file describing a demo executor set.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the Engine's runtime configuration.
type Config struct {
	// Root is the filesystem root under which fs-data/<storeVersion>/ is
	// created.
	Root string `yaml:"root"`

	// StoreVersion is carried in the configuration but not applied: artifact
	// paths are always built from layout.StoreVersion.
	StoreVersion string `yaml:"storeVersion,omitempty"`

	// CleanupScratchOnFailure controls whether a failed build's scratch
	// directory is removed (true) or left for forensic inspection (false).
	CleanupScratchOnFailure bool `yaml:"cleanupScratchOnFailure"`

	// DependencyParallelism is carried in the configuration but not applied:
	// the engine resolves every dependency of an artifact concurrently, with
	// no cap.
	DependencyParallelism int `yaml:"dependencyParallelism"`
}

// Default returns the Engine's default configuration for root.
func Default(root string) Config {
	return Config{
		Root:                    root,
		CleanupScratchOnFailure: true,
		DependencyParallelism:   0,
	}
}

// DemoExecutor describes one entry of a YAML-defined demo executor set,
// loaded by the CLI harness to register a handful of illustrative
// executors without recompiling.
type DemoExecutor struct {
	Kind string `yaml:"kind"`
	// Text is written verbatim to the artifact's single output file; this
	// keeps the demo format purely declarative while still exercising the
	// full publish path.
	Text string `yaml:"text"`
}

// DemoConfig is the top-level shape of a demo executor-set YAML file.
type DemoConfig struct {
	Executors []DemoExecutor `yaml:"executors"`
}

// LoadDemoConfig reads and parses a demo executor-set file.
func LoadDemoConfig(path string) (*DemoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading demo config")
	}
	var cfg DemoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing demo config")
	}
	return &cfg, nil
}
