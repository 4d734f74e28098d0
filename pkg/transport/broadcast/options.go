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

package broadcast

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// DefaultPort is the default discovery port.
	DefaultPort uint16 = 5670
	// DefaultBindAddr is the default receive bind address.
	DefaultBindAddr = "0.0.0.0"
	// DefaultBroadcastAddr is the default broadcast destination.
	DefaultBroadcastAddr = "255.255.255.255"
	// DefaultBufferSize is the default receive buffer size. Beacon
	// payloads are a handful of bytes, so this is generous.
	DefaultBufferSize = 512

	// PortEnvVar is the environment variable for the discovery port.
	PortEnvVar = "MESHBUS_DISCOVERY_PORT"
	// BindAddrEnvVar is the environment variable for the bind address.
	BindAddrEnvVar = "MESHBUS_DISCOVERY_BIND_ADDR"
	// BroadcastAddrEnvVar is the environment variable for the
	// broadcast destination.
	BroadcastAddrEnvVar = "MESHBUS_DISCOVERY_BROADCAST_ADDR"
	// BufferSizeEnvVar is the environment variable for the receive
	// buffer size.
	BufferSizeEnvVar = "MESHBUS_DISCOVERY_BUFFER_SIZE"
	// ReusePortEnvVar is the environment variable for port reuse.
	ReusePortEnvVar = "MESHBUS_DISCOVERY_REUSE_PORT"
)

// Options are options for the broadcast beacon.
type Options struct {
	// Port is the UDP port advertisements are sent to and received on.
	Port uint16 `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	// BindAddr is the local address the receive socket binds to.
	BindAddr string `json:"bind-addr,omitempty" yaml:"bind-addr,omitempty" toml:"bind-addr,omitempty"`
	// BroadcastAddr is the address advertisements are sent to.
	BroadcastAddr string `json:"broadcast-addr,omitempty" yaml:"broadcast-addr,omitempty" toml:"broadcast-addr,omitempty"`
	// BufferSize is the receive buffer size in bytes.
	BufferSize int `json:"buffer-size,omitempty" yaml:"buffer-size,omitempty" toml:"buffer-size,omitempty"`
	// ReusePort sets SO_REUSEPORT on the receive socket so several
	// nodes on the same host can share the discovery port. Only
	// honored on platforms that support it.
	ReusePort bool `json:"reuse-port,omitempty" yaml:"reuse-port,omitempty" toml:"reuse-port,omitempty"`
}

// NewOptions returns new Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Port:          DefaultPort,
		BindAddr:      DefaultBindAddr,
		BroadcastAddr: DefaultBroadcastAddr,
		BufferSize:    DefaultBufferSize,
		ReusePort:     true,
	}
}

// BindFlags binds the options to the given flag set.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.Uint16Var(&o.Port, "discovery.port", util.GetEnvUint16Default(PortEnvVar, DefaultPort),
		"UDP port advertisements are sent to and received on.")
	fs.StringVar(&o.BindAddr, "discovery.bind-addr", util.GetEnvDefault(BindAddrEnvVar, DefaultBindAddr),
		"Local address the discovery socket binds to.")
	fs.StringVar(&o.BroadcastAddr, "discovery.broadcast-addr", util.GetEnvDefault(BroadcastAddrEnvVar, DefaultBroadcastAddr),
		"Address advertisements are broadcast to.")
	fs.IntVar(&o.BufferSize, "discovery.buffer-size", util.GetEnvIntDefault(BufferSizeEnvVar, DefaultBufferSize),
		"Receive buffer size in bytes.")
	fs.BoolVar(&o.ReusePort, "discovery.reuse-port", util.GetEnvBoolDefault(ReusePortEnvVar, true),
		"Allow several nodes on the same host to share the discovery port.")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options are nil")
	}
	if o.Port == 0 {
		return errors.New("discovery port must not be zero")
	}
	if o.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	if _, err := netip.ParseAddr(o.BindAddr); err != nil {
		return fmt.Errorf("invalid bind address: %w", err)
	}
	addr, err := netip.ParseAddr(o.BroadcastAddr)
	if err != nil {
		return fmt.Errorf("invalid broadcast address: %w", err)
	}
	if !addr.Is4() {
		return errors.New("broadcast address must be IPv4")
	}
	return nil
}
