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

package zmq

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// DefaultListenAddress is the default receive bind endpoint. The
	// zero port binds an ephemeral port.
	DefaultListenAddress = "tcp://0.0.0.0:0"
	// DefaultDialTimeout is the default timeout for a single dial
	// attempt to a peer.
	DefaultDialTimeout = time.Second
	// DefaultDialRetryInterval is the default wait between dial
	// attempts when retries are configured.
	DefaultDialRetryInterval = 250 * time.Millisecond

	// ListenAddressEnvVar is the environment variable for the receive
	// bind endpoint.
	ListenAddressEnvVar = "MESHBUS_DATA_LISTEN_ADDRESS"
	// DialTimeoutEnvVar is the environment variable for the dial
	// timeout.
	DialTimeoutEnvVar = "MESHBUS_DATA_DIAL_TIMEOUT"
	// DialRetryIntervalEnvVar is the environment variable for the wait
	// between dial attempts.
	DialRetryIntervalEnvVar = "MESHBUS_DATA_DIAL_RETRY_INTERVAL"
	// DialMaxRetriesEnvVar is the environment variable for the maximum
	// number of dial retries.
	DialMaxRetriesEnvVar = "MESHBUS_DATA_DIAL_MAX_RETRIES"
)

// Options are options for the ZeroMQ data channel.
type Options struct {
	// ListenAddress is the endpoint the receive socket binds to.
	ListenAddress string `json:"listen-address,omitempty" yaml:"listen-address,omitempty" toml:"listen-address,omitempty"`
	// DialTimeout bounds a single dial attempt to a peer.
	DialTimeout time.Duration `json:"dial-timeout,omitempty" yaml:"dial-timeout,omitempty" toml:"dial-timeout,omitempty"`
	// DialRetryInterval is the wait between dial attempts.
	DialRetryInterval time.Duration `json:"dial-retry-interval,omitempty" yaml:"dial-retry-interval,omitempty" toml:"dial-retry-interval,omitempty"`
	// DialMaxRetries is the number of additional dial attempts after
	// the first one fails. Zero makes a single attempt.
	DialMaxRetries int `json:"dial-max-retries,omitempty" yaml:"dial-max-retries,omitempty" toml:"dial-max-retries,omitempty"`
}

// NewOptions returns new Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		ListenAddress:     DefaultListenAddress,
		DialTimeout:       DefaultDialTimeout,
		DialRetryInterval: DefaultDialRetryInterval,
		DialMaxRetries:    0,
	}
}

// BindFlags binds the options to the given flag set.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ListenAddress, "data.listen-address", util.GetEnvDefault(ListenAddressEnvVar, DefaultListenAddress),
		"Endpoint the data receive socket binds to. The zero port binds an ephemeral port.")
	fs.DurationVar(&o.DialTimeout, "data.dial-timeout", util.GetEnvDurationDefault(DialTimeoutEnvVar, DefaultDialTimeout),
		"Timeout for a single dial attempt to a peer.")
	fs.DurationVar(&o.DialRetryInterval, "data.dial-retry-interval", util.GetEnvDurationDefault(DialRetryIntervalEnvVar, DefaultDialRetryInterval),
		"Wait between dial attempts to a peer.")
	fs.IntVar(&o.DialMaxRetries, "data.dial-max-retries", util.GetEnvIntDefault(DialMaxRetriesEnvVar, 0),
		"Additional dial attempts after the first one fails.")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options are nil")
	}
	if !strings.Contains(o.ListenAddress, "://") {
		return fmt.Errorf("listen address %q must include a transport scheme", o.ListenAddress)
	}
	if o.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if o.DialRetryInterval <= 0 {
		return errors.New("dial retry interval must be positive")
	}
	if o.DialMaxRetries < 0 {
		return errors.New("dial max retries must not be negative")
	}
	return nil
}
