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

// Package transport defines the channel interfaces the bus runs on.
// The bus core never touches a socket directly; it speaks to a Beacon
// for discovery and a DataChannel for payload traffic. Default
// implementations live in the subpackages.
package transport

import (
	"errors"
	"time"

	"github.com/webmeshproj/meshbus/pkg/context"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// ErrNotListening is returned when an operation requires a bound
// receive side and Listen has not been called.
var ErrNotListening = errors.New("transport not listening")

// Advertisement is a single received beacon payload paired with the
// host it was heard from.
type Advertisement struct {
	// Payload is the raw advertised payload.
	Payload []byte
	// Host is the sender's network host.
	Host string
}

// Beacon is the discovery channel. It broadcasts short payloads to
// every host on the local network and receives the payloads other
// hosts broadcast.
type Beacon interface {
	// Advertise broadcasts the payload on the configured discovery
	// port every interval. It returns after sending the first beacon
	// and keeps broadcasting until the context is canceled or the
	// beacon is closed.
	Advertise(ctx context.Context, payload []byte, interval time.Duration) error
	// Recv returns the channel of received advertisements. The
	// channel is closed when the beacon closes. The sequence is lazy,
	// infinite until close, and not restartable.
	Recv() <-chan Advertisement
	// Close stops advertising and receiving and releases the
	// underlying socket.
	Close() error
}

// DataChannel is the point-to-point publish/subscribe transport that
// carries actual message payloads between peers. The receive side is
// one-to-many: every connected peer's messages arrive on the same
// channel. The send side fans out to every connected peer.
type DataChannel interface {
	// Listen binds the receive side. The bound port is ephemeral
	// unless the implementation was configured otherwise.
	Listen(ctx context.Context) error
	// HostAddress returns the bound receive address as
	// "<host>:<port>". Valid only after Listen.
	HostAddress() string
	// Port returns the bound receive port. Valid only after Listen.
	Port() uint16
	// Connect attaches the send side to the peer listening at the
	// given address.
	Connect(ctx context.Context, address string) error
	// Disconnect detaches the send side from the peer at the given
	// address. Disconnecting an unknown address is not an error.
	Disconnect(address string) error
	// Send forwards the frames to every connected peer.
	Send(frames [][]byte) error
	// Recv returns the channel of received frame-sequences. The
	// channel is closed when the data channel closes.
	Recv() <-chan [][]byte
	// Close detaches every peer and releases all sockets.
	Close() error
}
