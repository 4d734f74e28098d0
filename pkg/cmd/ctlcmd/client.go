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
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"

	"github.com/webmeshproj/meshbus/pkg/services/control"
)

var (
	client     zmq4.Socket
	clientStop context.CancelFunc
)

// initClient dials the daemon's control endpoint.
func initClient(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	client = zmq4.NewReq(ctx, zmq4.WithDialerTimeout(timeout))
	clientStop = cancel
	if err := client.Dial(serverAddr); err != nil {
		cancel()
		return fmt.Errorf("failed to dial %s: %w", serverAddr, err)
	}
	return nil
}

func closeClient(cmd *cobra.Command, args []string) {
	if client != nil {
		_ = client.Close()
	}
	if clientStop != nil {
		clientStop()
	}
}

// request performs one exchange with the daemon. Error replies from the
// daemon are returned as errors.
func request(frames ...string) ([]string, error) {
	if err := client.Send(zmq4.NewMsgFromString(frames)); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	replyc := make(chan zmq4.Msg, 1)
	errc := make(chan error, 1)
	go func() {
		reply, err := client.Recv()
		if err != nil {
			errc <- err
			return
		}
		replyc <- reply
	}()
	select {
	case reply := <-replyc:
		out := make([]string, 0, len(reply.Frames))
		for _, frame := range reply.Frames {
			out = append(out, string(frame))
		}
		if len(out) > 0 && strings.HasPrefix(out[0], control.ReplyErrPrefix) {
			return nil, errors.New(strings.TrimSpace(strings.TrimPrefix(out[0], control.ReplyErrPrefix)))
		}
		return out, nil
	case err := <-errc:
		return nil, fmt.Errorf("failed to receive reply: %w", err)
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for a reply from %s", serverAddr)
	}
}
