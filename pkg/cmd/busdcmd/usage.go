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
	"os"

	"github.com/webmeshproj/meshbus/pkg/util"
	"github.com/webmeshproj/meshbus/pkg/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Mesh Bus Daemon (Version: %s)\n\n", version.Version)
	fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])

	fmt.Fprint(os.Stderr, `
The mesh bus daemon is a single node on a self-organizing message bus.
It discovers peers on the local network by broadcasting its data port,
connects to every peer it hears from, and forgets peers that stay
silent for too long. Messages published to the bus are delivered to all
connected peers. No broker and no prior configuration are required: two
daemons on the same network segment find each other on their own.

A control endpoint is exposed for local clients. Commands are answered
on the listen address, and received messages and membership changes are
pushed on the feed address. The busctl command is a thin client for
both.

Configuration is available via command line flags, environment
variables, and configuration files. The configuration is parsed in the
following order:

  - Environment Variables
  - Command Line Flags
  - Configuration File

Environment variables are prefixed with "MESHBUS_" and match the
command line flags where all characters are uppercased and dashes and
dots are replaced with underscores. For example, the command line flag
"discovery.port" would be set via the environment variable
"MESHBUS_DISCOVERY_PORT".

Configuration files can be in YAML, JSON, or TOML. The configuration
file is specified via the "--config" flag. The configuration file
matches the structure of the command line flags. For example, the
following YAML configuration would be equivalent to the shown command
line flag:

  # config.yaml
  discovery:
    port: 5670  # --discovery.port

`)

	util.FlagsUsage(flagset, "Global Configurations:", "global", "")
	util.FlagsUsage(flagset, "Bus Configurations:", "bus", "")
	util.FlagsUsage(flagset, "Discovery Configurations:", "discovery", "")
	util.FlagsUsage(flagset, "Data Channel Configurations:", "data", "")
	util.FlagsUsage(flagset, "Control Configurations:", "control", "")
	util.FlagsUsage(flagset, "Metrics Configurations:", "metrics", "")

	fmt.Fprint(os.Stderr, "General Flags\n\n")
	fmt.Fprint(os.Stderr, "  --config         Load flags from the given configuration file\n")
	fmt.Fprint(os.Stderr, "  --print-config   Print the configuration and exit\n")
	fmt.Fprint(os.Stderr, "\n")
	fmt.Fprint(os.Stderr, "  --help       Show this help message\n")
	fmt.Fprint(os.Stderr, "  --version    Show version information and exit\n")
	fmt.Fprint(os.Stderr, "\n")
}
