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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"

	"github.com/webmeshproj/meshbus/pkg/services/control"
)

func init() {
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Streams messages and membership events from the daemon as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		sub := zmq4.NewSub(ctx, zmq4.WithDialerTimeout(timeout))
		defer sub.Close()
		if err := sub.Dial(feedAddr); err != nil {
			return fmt.Errorf("failed to dial %s: %w", feedAddr, err)
		}
		if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		msgc := make(chan zmq4.Msg)
		errc := make(chan error, 1)
		go func() {
			for {
				msg, err := sub.Recv()
				if err != nil {
					errc <- err
					return
				}
				select {
				case msgc <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errc:
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("feed receive failed: %w", err)
			case msg := <-msgc:
				line, err := formatFeed(msg)
				if err != nil {
					cmd.PrintErrln("skipping feed envelope:", err)
					continue
				}
				cmd.Println(line)
			}
		}
	},
}

// formatFeed renders one feed envelope as a JSON line.
func formatFeed(msg zmq4.Msg) (string, error) {
	if len(msg.Frames) == 0 {
		return "", errors.New("empty envelope")
	}
	switch kind := string(msg.Frames[0]); kind {
	case control.FeedEvent:
		if len(msg.Frames) != 3 {
			return "", fmt.Errorf("event envelope has %d frames", len(msg.Frames))
		}
		out, err := json.Marshal(map[string]string{
			"type":    "event",
			"event":   string(msg.Frames[1]),
			"address": string(msg.Frames[2]),
		})
		return string(out), err
	case control.FeedMessage:
		frames := make([]string, 0, len(msg.Frames)-1)
		for _, frame := range msg.Frames[1:] {
			frames = append(frames, string(frame))
		}
		out, err := json.Marshal(map[string]any{
			"type":   "message",
			"frames": frames,
		})
		return string(out), err
	default:
		return "", fmt.Errorf("unknown envelope kind %q", kind)
	}
}
