/*
Copyright 2023 Avi Zimmerman <avi.zimmerman@gmail.com>

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

package busdcmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/bus"
	"github.com/webmeshproj/meshbus/pkg/services/control"
	"github.com/webmeshproj/meshbus/pkg/services/metrics"
	"github.com/webmeshproj/meshbus/pkg/transport/broadcast"
	"github.com/webmeshproj/meshbus/pkg/transport/zmq"
	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// LogLevelEnvVar is the environment variable for the log level.
	LogLevelEnvVar = "MESHBUS_LOG_LEVEL"
	// LogFormatEnvVar is the environment variable for the log format.
	LogFormatEnvVar = "MESHBUS_LOG_FORMAT"
)

// GlobalOptions are options that apply to the whole process.
type GlobalOptions struct {
	// LogLevel is the log level. One of "debug", "info", "warn",
	// "error", or "silent".
	LogLevel string `json:"log-level,omitempty" yaml:"log-level,omitempty" toml:"log-level,omitempty"`
	// LogFormat is the log format. One of "text" or "json".
	LogFormat string `json:"log-format,omitempty" yaml:"log-format,omitempty" toml:"log-format,omitempty"`
}

// NewGlobalOptions returns new GlobalOptions with sensible defaults.
func NewGlobalOptions() *GlobalOptions {
	return &GlobalOptions{
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// BindFlags binds the options to the given flag set.
func (o *GlobalOptions) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "global.log-level", util.GetEnvDefault(LogLevelEnvVar, "info"),
		"Log level. One of debug, info, warn, error, or silent.")
	fs.StringVar(&o.LogFormat, "global.log-format", util.GetEnvDefault(LogFormatEnvVar, "text"),
		"Log format. One of text or json.")
}

// Options are the full daemon options.
type Options struct {
	Global    *GlobalOptions     `json:"global,omitempty" yaml:"global,omitempty" toml:"global,omitempty"`
	Bus       *bus.Options       `json:"bus,omitempty" yaml:"bus,omitempty" toml:"bus,omitempty"`
	Discovery *broadcast.Options `json:"discovery,omitempty" yaml:"discovery,omitempty" toml:"discovery,omitempty"`
	Data      *zmq.Options       `json:"data,omitempty" yaml:"data,omitempty" toml:"data,omitempty"`
	Control   *control.Options   `json:"control,omitempty" yaml:"control,omitempty" toml:"control,omitempty"`
	Metrics   *metrics.Options   `json:"metrics,omitempty" yaml:"metrics,omitempty" toml:"metrics,omitempty"`
}

// NewOptions returns new Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Global:    NewGlobalOptions(),
		Bus:       bus.NewOptions(),
		Discovery: broadcast.NewOptions(),
		Data:      zmq.NewOptions(),
		Control:   control.NewOptions(),
		Metrics:   metrics.NewOptions(),
	}
}

// BindFlags binds the flags.
func (o *Options) BindFlags(fs *pflag.FlagSet) *Options {
	o.Global.BindFlags(fs)
	o.Bus.BindFlags(fs)
	o.Discovery.BindFlags(fs)
	o.Data.BindFlags(fs)
	o.Control.BindFlags(fs)
	o.Metrics.BindFlags(fs)
	return o
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Bus.Validate(); err != nil {
		return fmt.Errorf("failed to validate bus options: %w", err)
	}
	if err := o.Discovery.Validate(); err != nil {
		return fmt.Errorf("failed to validate discovery options: %w", err)
	}
	if err := o.Data.Validate(); err != nil {
		return fmt.Errorf("failed to validate data options: %w", err)
	}
	if err := o.Control.Validate(); err != nil {
		return fmt.Errorf("failed to validate control options: %w", err)
	}
	if err := o.Metrics.Validate(); err != nil {
		return fmt.Errorf("failed to validate metrics options: %w", err)
	}
	return nil
}
