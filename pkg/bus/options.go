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

package bus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/identity"
	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// DefaultAdvertiseInterval is the default interval between
	// advertisements of the local data port.
	DefaultAdvertiseInterval = time.Second
	// DefaultDeadNodeTimeout is the default silence duration after
	// which a peer is considered gone.
	DefaultDeadNodeTimeout = 10 * time.Second
	// DefaultSweepInterval is the default interval between dead-node
	// sweeps.
	DefaultSweepInterval = time.Second
	// DefaultConnectRetryInterval is the default wait between
	// data-plane connect attempts within a single join.
	DefaultConnectRetryInterval = 250 * time.Millisecond

	// AdvertiseIntervalEnvVar is the environment variable for the
	// advertise interval.
	AdvertiseIntervalEnvVar = "MESHBUS_ADVERTISE_INTERVAL"
	// DeadNodeTimeoutEnvVar is the environment variable for the
	// dead-node timeout.
	DeadNodeTimeoutEnvVar = "MESHBUS_DEAD_NODE_TIMEOUT"
	// SweepIntervalEnvVar is the environment variable for the sweep
	// interval.
	SweepIntervalEnvVar = "MESHBUS_SWEEP_INTERVAL"
	// RetryOnRefreshEnvVar is the environment variable for retrying
	// failed data-plane connects when a peer advertises again.
	RetryOnRefreshEnvVar = "MESHBUS_RETRY_ON_REFRESH"
	// MaxConnectRetriesEnvVar is the environment variable for the
	// number of connect retries within a single join.
	MaxConnectRetriesEnvVar = "MESHBUS_MAX_CONNECT_RETRIES"
	// ConnectRetryIntervalEnvVar is the environment variable for the
	// wait between connect retries.
	ConnectRetryIntervalEnvVar = "MESHBUS_CONNECT_RETRY_INTERVAL"
)

// Options are options for the bus.
type Options struct {
	// AdvertiseInterval is how often the local data port is advertised
	// on the discovery channel.
	AdvertiseInterval time.Duration `json:"advertise-interval,omitempty" yaml:"advertise-interval,omitempty" toml:"advertise-interval,omitempty"`
	// DeadNodeTimeout is how long a peer may stay silent before it is
	// swept from the membership table. It must be strictly greater
	// than the advertise interval so a peer survives a missed beacon.
	DeadNodeTimeout time.Duration `json:"dead-node-timeout,omitempty" yaml:"dead-node-timeout,omitempty" toml:"dead-node-timeout,omitempty"`
	// SweepInterval is how often the membership table is swept for
	// dead peers.
	SweepInterval time.Duration `json:"sweep-interval,omitempty" yaml:"sweep-interval,omitempty" toml:"sweep-interval,omitempty"`
	// RetryOnRefresh retries a failed data-plane connect the next time
	// the peer advertises.
	RetryOnRefresh bool `json:"retry-on-refresh,omitempty" yaml:"retry-on-refresh,omitempty" toml:"retry-on-refresh,omitempty"`
	// MaxConnectRetries is the number of additional data-plane connect
	// attempts within a single join. Zero makes a single attempt.
	MaxConnectRetries uint `json:"max-connect-retries,omitempty" yaml:"max-connect-retries,omitempty" toml:"max-connect-retries,omitempty"`
	// ConnectRetryInterval is the wait between connect attempts within
	// a single join.
	ConnectRetryInterval time.Duration `json:"connect-retry-interval,omitempty" yaml:"connect-retry-interval,omitempty" toml:"connect-retry-interval,omitempty"`
	// Resolver resolves display hostnames for discovered peers. It is
	// not bound to flags. Defaults to a caching resolver over the
	// system resolver.
	Resolver identity.Resolver `json:"-" yaml:"-" toml:"-"`
	// MetricsRegisterer registers the bus collectors. It is not bound
	// to flags. When nil the collectors are created unregistered.
	MetricsRegisterer prometheus.Registerer `json:"-" yaml:"-" toml:"-"`
}

// NewOptions returns new Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		AdvertiseInterval:    DefaultAdvertiseInterval,
		DeadNodeTimeout:      DefaultDeadNodeTimeout,
		SweepInterval:        DefaultSweepInterval,
		RetryOnRefresh:       true,
		MaxConnectRetries:    0,
		ConnectRetryInterval: DefaultConnectRetryInterval,
	}
}

// BindFlags binds the options to the given flag set.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.AdvertiseInterval, "bus.advertise-interval", util.GetEnvDurationDefault(AdvertiseIntervalEnvVar, DefaultAdvertiseInterval),
		"How often the local data port is advertised.")
	fs.DurationVar(&o.DeadNodeTimeout, "bus.dead-node-timeout", util.GetEnvDurationDefault(DeadNodeTimeoutEnvVar, DefaultDeadNodeTimeout),
		"How long a peer may stay silent before it is considered gone.")
	fs.DurationVar(&o.SweepInterval, "bus.sweep-interval", util.GetEnvDurationDefault(SweepIntervalEnvVar, DefaultSweepInterval),
		"How often the membership table is swept for dead peers.")
	fs.BoolVar(&o.RetryOnRefresh, "bus.retry-on-refresh", util.GetEnvBoolDefault(RetryOnRefreshEnvVar, true),
		"Retry a failed data-plane connect the next time the peer advertises.")
	fs.UintVar(&o.MaxConnectRetries, "bus.max-connect-retries", uint(util.GetEnvIntDefault(MaxConnectRetriesEnvVar, 0)),
		"Additional data-plane connect attempts within a single join.")
	fs.DurationVar(&o.ConnectRetryInterval, "bus.connect-retry-interval", util.GetEnvDurationDefault(ConnectRetryIntervalEnvVar, DefaultConnectRetryInterval),
		"Wait between data-plane connect attempts within a single join.")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options are nil")
	}
	if o.AdvertiseInterval <= 0 {
		return errors.New("advertise interval must be positive")
	}
	if o.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if o.DeadNodeTimeout <= o.AdvertiseInterval {
		return errors.New("dead node timeout must be strictly greater than the advertise interval")
	}
	if o.ConnectRetryInterval <= 0 {
		return errors.New("connect retry interval must be positive")
	}
	return nil
}
