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

// Package ctlcmd contains the busctl CLI tool.
package ctlcmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/webmeshproj/meshbus/pkg/services/control"
	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// ServerEnvVar is the environment variable for the control endpoint.
	ServerEnvVar = "MESHBUS_CTL_SERVER"
	// FeedEnvVar is the environment variable for the feed endpoint.
	FeedEnvVar = "MESHBUS_CTL_FEED"
)

var (
	serverAddr string
	feedAddr   string
	timeout    time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		util.GetEnvDefault(ServerEnvVar, control.DefaultListenAddress),
		"Control endpoint of the bus daemon")
	rootCmd.PersistentFlags().StringVar(&feedAddr, "feed",
		util.GetEnvDefault(FeedEnvVar, control.DefaultFeedAddress),
		"Feed endpoint of the bus daemon")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second,
		"Timeout for a single command")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:           "busctl",
	Short:         "busctl is a CLI client for a local mesh bus daemon",
	SilenceErrors: true,
	SilenceUsage:  true,
}
