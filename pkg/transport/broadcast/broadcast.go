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

// Package broadcast provides the default discovery channel. It
// advertises over UDP broadcast on a fixed port and receives the
// advertisements of every other node on the segment, including this
// node's own.
package broadcast

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/transport"
)

// beacon is a UDP broadcast implementation of transport.Beacon.
type beacon struct {
	opts   *Options
	conn   *net.UDPConn
	bcast  *net.UDPAddr
	recvc  chan transport.Advertisement
	closec chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// New binds the discovery socket and starts the receive pump. The
// returned beacon does not advertise until Advertise is called.
func New(ctx context.Context, opts *Options) (transport.Beacon, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	lc := net.ListenConfig{}
	if opts.ReusePort {
		lc.Control = reusePortControl
	}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(opts.BindAddr, strconv.Itoa(int(opts.Port))))
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket: %w", err)
	}
	b := &beacon{
		opts: opts,
		conn: pc.(*net.UDPConn),
		bcast: &net.UDPAddr{
			IP:   net.ParseIP(opts.BroadcastAddr),
			Port: int(opts.Port),
		},
		recvc:  make(chan transport.Advertisement),
		closec: make(chan struct{}),
		log: context.LoggerFrom(ctx).With(
			slog.String("component", "broadcast-beacon"),
			slog.Int("port", int(opts.Port)),
		),
	}
	go b.recvLoop()
	return b, nil
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
	if err := b.send(payload); err != nil {
		return fmt.Errorf("send first beacon: %w", err)
	}
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
				if err := b.send(payload); err != nil {
					select {
					case <-b.closec:
						return
					default:
					}
					b.log.Warn("failed to send beacon", slog.String("error", err.Error()))
				}
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
	var err error
	b.once.Do(func() {
		close(b.closec)
		err = b.conn.Close()
	})
	return err
}

func (b *beacon) send(payload []byte) error {
	_, err := b.conn.WriteToUDP(payload, b.bcast)
	return err
}

// recvLoop pumps received datagrams into the advertisement channel
// until the socket is closed. It owns the channel's close.
func (b *beacon) recvLoop() {
	defer close(b.recvc)
	buf := make([]byte, b.opts.BufferSize)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-b.closec:
			default:
				b.log.Error("discovery socket read failed", slog.String("error", err.Error()))
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		adv := transport.Advertisement{
			Payload: payload,
			Host:    addr.IP.String(),
		}
		select {
		case b.recvc <- adv:
		case <-b.closec:
			return
		}
	}
}
