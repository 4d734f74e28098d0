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

// Package inproc provides loopback implementations of the transport
// interfaces over a shared in-memory network. Beacons mimic UDP
// broadcast: every beacon on the network hears every advertisement,
// including the sender's own, and advertisements are dropped when a
// receiver's buffer is full. Data channels mimic the connected data
// plane: sends block until the receiver has room. The package is used
// by tests and demos; nothing touches a real socket.
package inproc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/transport"
)

// ErrConnectionRefused is returned when connecting to an address with
// no listening data channel.
var ErrConnectionRefused = errors.New("connection refused")

const (
	// beaconBuffer is the receive buffer of a beacon. Advertisements
	// past it are dropped, as UDP would.
	beaconBuffer = 64
	// dataBuffer is the receive buffer of a data channel. Sends block
	// when it is full.
	dataBuffer = 128
	// basePort is the first port assigned to a listening data channel.
	basePort = 61000
)

// Network is an in-memory network segment. Beacons and data channels
// created from the same network can reach each other.
type Network struct {
	mu       sync.Mutex
	beacons  map[*beacon]struct{}
	channels map[string]*dataChannel
	nextPort uint16
}

// NewNetwork returns an empty network segment.
func NewNetwork() *Network {
	return &Network{
		beacons:  make(map[*beacon]struct{}),
		channels: make(map[string]*dataChannel),
		nextPort: basePort,
	}
}

// NewBeacon returns a beacon attached to the network. The host names
// the sender on every advertisement it broadcasts.
func (n *Network) NewBeacon(host string) transport.Beacon {
	b := &beacon{
		net:    n,
		host:   host,
		recvc:  make(chan transport.Advertisement, beaconBuffer),
		closec: make(chan struct{}),
	}
	n.mu.Lock()
	n.beacons[b] = struct{}{}
	n.mu.Unlock()
	return b
}

// NewDataChannel returns a data channel attached to the network. The
// host names the channel in the address it listens on.
func (n *Network) NewDataChannel(host string) transport.DataChannel {
	return &dataChannel{
		net:    n,
		host:   host,
		conns:  make(map[string]*dataChannel),
		recvc:  make(chan [][]byte, dataBuffer),
		closec: make(chan struct{}),
	}
}

// broadcast delivers the payload to every beacon on the network,
// including the sender's own.
func (n *Network) broadcast(payload []byte, host string) {
	n.mu.Lock()
	targets := make([]*beacon, 0, len(n.beacons))
	for b := range n.beacons {
		targets = append(targets, b)
	}
	n.mu.Unlock()
	for _, b := range targets {
		b.deliver(transport.Advertisement{
			Payload: append([]byte(nil), payload...),
			Host:    host,
		})
	}
}

func (n *Network) removeBeacon(b *beacon) {
	n.mu.Lock()
	delete(n.beacons, b)
	n.mu.Unlock()
}

// register assigns a port to the channel and registers it under its
// connection address.
func (n *Network) register(c *dataChannel) (uint16, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	port := n.nextPort
	n.nextPort++
	addr := fmt.Sprintf("tcp://%s:%d", c.host, port)
	n.channels[addr] = c
	return port, addr
}

func (n *Network) unregister(addr string) {
	n.mu.Lock()
	delete(n.channels, addr)
	n.mu.Unlock()
}

func (n *Network) lookup(addr string) (*dataChannel, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.channels[addr]
	return c, ok
}

// beacon is an in-memory implementation of transport.Beacon.
type beacon struct {
	net     *Network
	host    string
	recvc   chan transport.Advertisement
	closec  chan struct{}
	closemu sync.RWMutex
	closed  bool
	once    sync.Once
}

// Advertise implements transport.Beacon.
func (b *beacon) Advertise(ctx context.Context, payload []byte, interval time.Duration) error {
	select {
	case <-b.closec:
		return transport.ErrClosed
	default:
	}
	if interval <= 0 {
		return fmt.Errorf("advertise interval must be positive, got %s", interval)
	}
	b.net.broadcast(payload, b.host)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closec:
				return
			case <-t.C:
				b.net.broadcast(payload, b.host)
			}
		}
	}()
	return nil
}

// Recv implements transport.Beacon.
func (b *beacon) Recv() <-chan transport.Advertisement {
	return b.recvc
}

// Close implements transport.Beacon.
func (b *beacon) Close() error {
	b.once.Do(func() {
		close(b.closec)
		b.net.removeBeacon(b)
		// Wait out in-flight deliveries before closing the channel.
		b.closemu.Lock()
		b.closed = true
		b.closemu.Unlock()
		close(b.recvc)
	})
	return nil
}

// deliver hands the advertisement to the beacon's receiver, dropping
// it when the buffer is full.
func (b *beacon) deliver(adv transport.Advertisement) {
	b.closemu.RLock()
	defer b.closemu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.recvc <- adv:
	case <-b.closec:
	default:
	}
}

// dataChannel is an in-memory implementation of transport.DataChannel.
type dataChannel struct {
	net       *Network
	host      string
	addr      string
	port      uint16
	listening bool
	conns     map[string]*dataChannel
	mu        sync.Mutex
	recvc     chan [][]byte
	closec    chan struct{}
	closemu   sync.RWMutex
	closed    bool
	once      sync.Once
}

// Listen implements transport.DataChannel.
func (c *dataChannel) Listen(ctx context.Context) error {
	select {
	case <-c.closec:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening {
		return errors.New("data channel already listening")
	}
	c.port, c.addr = c.net.register(c)
	c.listening = true
	return nil
}

// HostAddress implements transport.DataChannel.
func (c *dataChannel) HostAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.listening {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Port implements transport.DataChannel.
func (c *dataChannel) Port() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Connect implements transport.DataChannel.
func (c *dataChannel) Connect(ctx context.Context, address string) error {
	select {
	case <-c.closec:
		return transport.ErrClosed
	default:
	}
	target, ok := c.net.lookup(address)
	if !ok {
		return fmt.Errorf("connect %s: %w", address, ErrConnectionRefused)
	}
	c.mu.Lock()
	c.conns[address] = target
	c.mu.Unlock()
	return nil
}

// Disconnect implements transport.DataChannel.
func (c *dataChannel) Disconnect(address string) error {
	c.mu.Lock()
	delete(c.conns, address)
	c.mu.Unlock()
	return nil
}

// Send implements transport.DataChannel.
func (c *dataChannel) Send(frames [][]byte) error {
	select {
	case <-c.closec:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	targets := make([]*dataChannel, 0, len(c.conns))
	for _, target := range c.conns {
		targets = append(targets, target)
	}
	c.mu.Unlock()
	for _, target := range targets {
		target.deliver(cloneFrames(frames))
	}
	return nil
}

// Recv implements transport.DataChannel.
func (c *dataChannel) Recv() <-chan [][]byte {
	return c.recvc
}

// Close implements transport.DataChannel.
func (c *dataChannel) Close() error {
	c.once.Do(func() {
		close(c.closec)
		c.mu.Lock()
		if c.listening {
			c.net.unregister(c.addr)
		}
		for addr := range c.conns {
			delete(c.conns, addr)
		}
		c.mu.Unlock()
		// Wait out in-flight deliveries before closing the channel.
		c.closemu.Lock()
		c.closed = true
		c.closemu.Unlock()
		close(c.recvc)
	})
	return nil
}

// deliver hands the frames to the channel's receiver, blocking until
// there is room or the receiver closes.
func (c *dataChannel) deliver(frames [][]byte) {
	c.closemu.RLock()
	defer c.closemu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.recvc <- frames:
	case <-c.closec:
	}
}

func cloneFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, frame := range frames {
		// make keeps zero-length frames non-nil so receivers observe
		// the same frame count and content the sender passed in.
		out[i] = make([]byte, len(frame))
		copy(out[i], frame)
	}
	return out
}
