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
	"errors"

	"github.com/spf13/cobra"

	"github.com/webmeshproj/meshbus/pkg/services/control"
)

func init() {
	rootCmd.AddCommand(addressCmd)
}

var addressCmd = &cobra.Command{
	Use:     "address",
	Short:   "Prints the address peers use to reach the daemon's data channel",
	Args:    cobra.NoArgs,
	PreRunE: initClient,
	PostRun: closeClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := request(control.CommandHostAddress)
		if err != nil {
			return err
		}
		if len(reply) == 0 {
			return errors.New("empty reply from daemon")
		}
		cmd.Println(reply[0])
		return nil
	},
}
