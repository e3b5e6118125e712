/*
   Copyright The sysd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is read when --config is not given.
const DefaultPath = "/etc/sysd/config.toml"

// Config is the daemon configuration.
type Config struct {
	// DefaultTarget overrides the default.target resolution at boot.
	DefaultTarget string `toml:"default_target"`
	// UnitPaths prepend extra unit search directories.
	UnitPaths []string `toml:"unit_paths"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `toml:"log_level"`
	// TimerStampsPath stores Persistent= timer stamps.
	TimerStampsPath string `toml:"timer_stamps_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		TimerStampsPath: "/var/lib/sysd/timer-stamps.db",
	}
}

// Load reads a config file over the defaults. A missing file at the
// default path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
