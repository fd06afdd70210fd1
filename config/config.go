// Package config loads bridge configuration from YAML with environment
// overrides.
//
//	library:
//	  path: demo.wasm
//	  namespace: demo
//	contract:
//	  version: 3
//	  interface: demo.wit
//	  checksums:
//	    func_echo: 4242
//	log:
//	  level: debug
//	async:
//	  poll_timeout: 30s
//
// FFIBRIDGE_LIBRARY, FFIBRIDGE_NAMESPACE, FFIBRIDGE_LOG_LEVEL and
// FFIBRIDGE_CONTRACT_VERSION override the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-bridge/errors"
)

// Environment variables
const (
	EnvLibrary         = "FFIBRIDGE_LIBRARY"
	EnvNamespace       = "FFIBRIDGE_NAMESPACE"
	EnvLogLevel        = "FFIBRIDGE_LOG_LEVEL"
	EnvContractVersion = "FFIBRIDGE_CONTRACT_VERSION"
)

const (
	defaultMemoryExport = "memory"
	defaultPollTimeout  = 30 * time.Second
)

// LibrarySection locates the native library
type LibrarySection struct {
	Path         string `yaml:"path"`
	Namespace    string `yaml:"namespace"`
	MemoryExport string `yaml:"memory_export"`
	// MemoryLimitPages caps guest memory in 64KiB pages; 0 means no cap
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// ContractSection is what the bindings expect of the library
type ContractSection struct {
	Checksums map[string]uint16 `yaml:"checksums"`
	// Interface is a file of function signatures whose checksums are
	// verified in addition to Checksums. Relative to the config file.
	Interface   string `yaml:"interface"`
	Version     uint32 `yaml:"version"`
	Parallelism int    `yaml:"parallelism"`
}

// LogSection configures diagnostics
type LogSection struct {
	// Level is debug, info, warn or error. Empty disables logging.
	Level string `yaml:"level"`
}

// AsyncSection configures futures
type AsyncSection struct {
	// PollTimeout bounds how long a future is awaited, in Go duration format
	PollTimeout string `yaml:"poll_timeout"`
}

// FileConfig is the configuration file layout
type FileConfig struct {
	Library  LibrarySection  `yaml:"library"`
	Contract ContractSection `yaml:"contract"`
	Log      LogSection      `yaml:"log"`
	Async    AsyncSection    `yaml:"async"`
	Version  int             `yaml:"version,omitempty"`
}

// Config is the resolved configuration
type Config struct {
	Library     LibrarySection
	Contract    ContractSection
	LogLevel    string
	PollTimeout time.Duration
}

// Load reads path, applies defaults and environment overrides, and validates
func Load(path string) (Config, error) {
	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, errors.Config("read config file", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, errors.Config("parse config file", err)
	}

	cfg, err := fc.resolve(filepath.Dir(clean))
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a configuration for namespace ns with defaults applied
func Default(ns string) Config {
	return Config{
		Library:     LibrarySection{Namespace: ns, MemoryExport: defaultMemoryExport},
		Contract:    ContractSection{Checksums: map[string]uint16{}},
		PollTimeout: defaultPollTimeout,
	}
}

func (fc FileConfig) resolve(dir string) (Config, error) {
	if fc.Version > 1 {
		return Config{}, errors.Config(fmt.Sprintf("unsupported config version %d", fc.Version), nil)
	}

	cfg := Default(fc.Library.Namespace)
	cfg.Library.Path = fc.Library.Path
	cfg.Library.MemoryLimitPages = fc.Library.MemoryLimitPages
	if fc.Library.MemoryExport != "" {
		cfg.Library.MemoryExport = fc.Library.MemoryExport
	}
	cfg.Contract.Version = fc.Contract.Version
	cfg.Contract.Parallelism = fc.Contract.Parallelism
	for e, s := range fc.Contract.Checksums {
		cfg.Contract.Checksums[e] = s
	}
	cfg.Contract.Interface = fc.Contract.Interface
	cfg.LogLevel = fc.Log.Level

	for _, p := range []*string{&cfg.Library.Path, &cfg.Contract.Interface} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	if fc.Async.PollTimeout != "" {
		d, err := time.ParseDuration(fc.Async.PollTimeout)
		if err != nil {
			return Config{}, errors.Config(fmt.Sprintf("invalid async.poll_timeout %q", fc.Async.PollTimeout), err)
		}
		cfg.PollTimeout = d
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. An invalid value is an
// error, never silently ignored.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLibrary); v != "" {
		c.Library.Path = v
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		c.Library.Namespace = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvContractVersion); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return errors.Config(fmt.Sprintf("invalid %s %q", EnvContractVersion, v), err)
		}
		c.Contract.Version = uint32(n)
	}
	return nil
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	if c.Library.Path == "" {
		return errors.Config("library.path must be set", nil)
	}
	if c.Library.Namespace == "" {
		return errors.Config("library.namespace must be set", nil)
	}
	if c.Contract.Parallelism < 0 {
		return errors.Config("contract.parallelism must not be negative", nil)
	}
	if c.PollTimeout < 0 {
		return errors.Config("async.poll_timeout must not be negative", nil)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
