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

// Package zmq provides the default data channel over ZeroMQ sockets.
// The receive side is a single SUB socket bound to a local endpoint
// and subscribed to everything. The send side keeps one PUB socket
// per connected peer, dialed to the peer's bound endpoint, so peers
// can be detached individually. Delivery semantics are those of
// ZeroMQ PUB/SUB: fire-and-forget, no queueing for absent peers.
package zmq

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/transport"
)

// channel is a ZeroMQ implementation of transport.DataChannel.
type channel struct {
	opts *Options
	// ctx scopes the lifetime of every socket. zmq4 binds sockets to a
	// context at construction time.
	ctx       context.Context
	sub       zmq4.Socket
	host      string
	port      uint16
	listening bool
	pubs      map[string]zmq4.Socket
	mu        sync.Mutex
	recvc     chan [][]byte
	closec    chan struct{}
	once      sync.Once
	log       *slog.Logger
}

// New returns a data channel using ZeroMQ sockets. The given context
// scopes the lifetime of every socket the channel creates. The receive
// side is not bound until Listen is called.
func New(ctx context.Context, opts *Options) (transport.DataChannel, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	log := context.LoggerFrom(ctx).With(slog.String("component", "zmq-data-channel"))
	c := &channel{
		opts:   opts,
		ctx:    ctx,
		pubs:   make(map[string]zmq4.Socket),
		recvc:  make(chan [][]byte),
		closec: make(chan struct{}),
		log:    log,
	}
	c.sub = zmq4.NewSub(ctx, zmq4.WithLogger(c.socketLogger()))
	return c, nil
}

// Listen implements transport.DataChannel.
func (c *channel) Listen(ctx context.Context) error {
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
	if err := c.sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribe receive socket: %w", err)
	}
	if err := c.sub.Listen(c.opts.ListenAddress); err != nil {
		return fmt.Errorf("bind receive socket: %w", err)
	}
	host, port, err := boundAddress(c.sub.Addr())
	if err != nil {
		return fmt.Errorf("resolve bound address: %w", err)
	}
	c.host = host
	c.port = port
	c.listening = true
	c.log = c.log.With(slog.Int("port", int(port)))
	go c.recvLoop()
	return nil
}

// HostAddress implements transport.DataChannel.
func (c *channel) HostAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.listening {
		return ""
	}
	return net.JoinHostPort(c.host, strconv.Itoa(int(c.port)))
}

// Port implements transport.DataChannel.
func (c *channel) Port() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Connect implements transport.DataChannel. Connecting an address that
// is already connected is a no-op. The dial is bounded by the dial
// timeout and retry options.
func (c *channel) Connect(ctx context.Context, address string) error {
	select {
	case <-c.closec:
		return transport.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if _, ok := c.pubs[address]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	pub := zmq4.NewPub(c.ctx,
		zmq4.WithLogger(c.socketLogger()),
		zmq4.WithDialerTimeout(c.opts.DialTimeout),
		zmq4.WithDialerRetry(c.opts.DialRetryInterval),
		zmq4.WithDialerMaxRetries(c.opts.DialMaxRetries),
	)
	if err := pub.Dial(address); err != nil {
		_ = pub.Close()
		return fmt.Errorf("dial %s: %w", address, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closec:
		_ = pub.Close()
		return transport.ErrClosed
	default:
	}
	if _, ok := c.pubs[address]; ok {
		// Lost a race against another connect to the same address.
		_ = pub.Close()
		return nil
	}
	c.pubs[address] = pub
	return nil
}

// Disconnect implements transport.DataChannel.
func (c *channel) Disconnect(address string) error {
	c.mu.Lock()
	pub, ok := c.pubs[address]
	delete(c.pubs, address)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := pub.Close(); err != nil {
		return fmt.Errorf("close publisher for %s: %w", address, err)
	}
	return nil
}

// Send implements transport.DataChannel. The frames are fanned out to
// every connected peer. Failures are joined per peer; the remaining
// peers still receive the frames.
func (c *channel) Send(frames [][]byte) error {
	select {
	case <-c.closec:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	pubs := make(map[string]zmq4.Socket, len(c.pubs))
	for addr, pub := range c.pubs {
		pubs[addr] = pub
	}
	c.mu.Unlock()
	var errs []error
	for addr, pub := range pubs {
		if err := pub.Send(zmq4.NewMsgFrom(frames...)); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

// Recv implements transport.DataChannel.
func (c *channel) Recv() <-chan [][]byte {
	return c.recvc
}

// Close implements transport.DataChannel.
func (c *channel) Close() error {
	var errs []error
	c.once.Do(func() {
		close(c.closec)
		c.mu.Lock()
		for addr, pub := range c.pubs {
			if err := pub.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close publisher for %s: %w", addr, err))
			}
			delete(c.pubs, addr)
		}
		listening := c.listening
		c.mu.Unlock()
		if err := c.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close receive socket: %w", err))
		}
		if !listening {
			// No receive pump was ever started, so the channel is
			// closed here instead.
			close(c.recvc)
		}
	})
	return errors.Join(errs...)
}

// recvLoop pumps received messages into the frame channel until the
// receive socket is closed. It owns the channel's close.
func (c *channel) recvLoop() {
	defer close(c.recvc)
	for {
		msg, err := c.sub.Recv()
		if err != nil {
			select {
			case <-c.closec:
			default:
				if c.ctx.Err() == nil {
					c.log.Error("data socket receive failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		select {
		case c.recvc <- msg.Frames:
		case <-c.closec:
			return
		}
	}
}

// socketLogger adapts the channel's logger for zmq4's internal logging.
func (c *channel) socketLogger() *log.Logger {
	return slog.NewLogLogger(c.log.Handler(), slog.LevelDebug)
}

// boundAddress extracts the advertised host and port from the receive
// socket's bound address. An unspecified bind address is substituted
// with the local hostname so the result is dialable from other hosts.
func boundAddress(addr net.Addr) (string, uint16, error) {
	if addr == nil {
		return "", 0, errors.New("receive socket reported no address")
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unexpected address type %T", addr)
	}
	host := tcpAddr.IP.String()
	if tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified() {
		hostname, err := os.Hostname()
		if err == nil {
			host = hostname
		}
	}
	return host, uint16(tcpAddr.Port), nil
}
