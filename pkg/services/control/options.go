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

package control

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// DefaultListenAddress is the default endpoint of the command socket.
	DefaultListenAddress = "tcp://127.0.0.1:5680"
	// DefaultFeedAddress is the default endpoint of the feed socket.
	DefaultFeedAddress = "tcp://127.0.0.1:5681"

	// ListenAddressEnvVar is the environment variable for the command
	// socket endpoint.
	ListenAddressEnvVar = "MESHBUS_CONTROL_LISTEN_ADDRESS"
	// FeedAddressEnvVar is the environment variable for the feed socket
	// endpoint.
	FeedAddressEnvVar = "MESHBUS_CONTROL_FEED_ADDRESS"
)

// Options are options for the control server.
type Options struct {
	// ListenAddress is the endpoint the command socket binds to.
	// Commands are served request/reply.
	ListenAddress string `json:"listen-address,omitempty" yaml:"listen-address,omitempty" toml:"listen-address,omitempty"`
	// FeedAddress is the endpoint the feed socket binds to. Membership
	// events and forwarded messages are published there.
	FeedAddress string `json:"feed-address,omitempty" yaml:"feed-address,omitempty" toml:"feed-address,omitempty"`
}

// NewOptions returns new Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		ListenAddress: DefaultListenAddress,
		FeedAddress:   DefaultFeedAddress,
	}
}

// BindFlags binds the options to the given flag set.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ListenAddress, "control.listen-address", util.GetEnvDefault(ListenAddressEnvVar, DefaultListenAddress),
		"Endpoint the control command socket binds to.")
	fs.StringVar(&o.FeedAddress, "control.feed-address", util.GetEnvDefault(FeedAddressEnvVar, DefaultFeedAddress),
		"Endpoint the control feed socket binds to.")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options are nil")
	}
	if !strings.Contains(o.ListenAddress, "://") {
		return fmt.Errorf("listen address %q must include a transport scheme", o.ListenAddress)
	}
	if !strings.Contains(o.FeedAddress, "://") {
		return fmt.Errorf("feed address %q must include a transport scheme", o.FeedAddress)
	}
	if o.ListenAddress == o.FeedAddress {
		return errors.New("listen address and feed address must differ")
	}
	return nil
}
