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

package ctlcmd

import (
	"github.com/spf13/cobra"

	"github.com/webmeshproj/meshbus/pkg/services/control"
)

func init() {
	rootCmd.AddCommand(peersCmd)
}

var peersCmd = &cobra.Command{
	Use:     "peers",
	Short:   "Prints the addresses of the peers the daemon currently tracks",
	Args:    cobra.NoArgs,
	PreRunE: initClient,
	PostRun: closeClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := request(control.CommandListPeers)
		if err != nil {
			return err
		}
		for _, peer := range reply {
			// An empty table is reported as a single empty frame.
			if peer == "" {
				continue
			}
			cmd.Println(peer)
		}
		return nil
	},
}
