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
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/transport"
)

// loopbackOptions returns options that bind to an ephemeral loopback
// port so the tests never touch the real network.
func loopbackOptions() *Options {
	opts := NewOptions()
	opts.ListenAddress = "tcp://127.0.0.1:0"
	return opts
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	tt := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{
			name:   "Defaults",
			mutate: func(*Options) {},
		},
		{
			name:    "MissingScheme",
			mutate:  func(o *Options) { o.ListenAddress = "127.0.0.1:0" },
			wantErr: true,
		},
		{
			name:    "ZeroDialTimeout",
			mutate:  func(o *Options) { o.DialTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "ZeroRetryInterval",
			mutate:  func(o *Options) { o.DialRetryInterval = 0 },
			wantErr: true,
		},
		{
			name:    "NegativeMaxRetries",
			mutate:  func(o *Options) { o.DialMaxRetries = -1 },
			wantErr: true,
		},
	}
	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := NewOptions()
			tc.mutate(opts)
			err := opts.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestListenBindsEphemeralPort(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, loopbackOptions())
	if err != nil {
		t.Fatalf("failed to create data channel: %v", err)
	}
	defer c.Close()
	if err := c.Listen(ctx); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	if c.Port() == 0 {
		t.Fatal("expected a non-zero bound port")
	}
	if !strings.HasSuffix(c.HostAddress(), ":"+strconv.Itoa(int(c.Port()))) {
		t.Fatalf("expected host address %q to end with the bound port %d", c.HostAddress(), c.Port())
	}
	if err := c.Listen(ctx); err == nil {
		t.Fatal("expected a second listen to fail")
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	receiver, err := New(ctx, loopbackOptions())
	if err != nil {
		t.Fatalf("failed to create receiver: %v", err)
	}
	defer receiver.Close()
	if err := receiver.Listen(ctx); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	sender, err := New(ctx, loopbackOptions())
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	defer sender.Close()
	addr := "tcp://" + receiver.HostAddress()
	if err := sender.Connect(ctx, addr); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	// Connecting again is a no-op.
	if err := sender.Connect(ctx, addr); err != nil {
		t.Fatalf("expected idempotent connect, got %v", err)
	}
	// PUB/SUB drops messages sent before the subscription handshake
	// completes, so keep sending until one arrives.
	want := [][]byte{[]byte("topic"), []byte("payload"), {}, {0x00, 0xff}}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var got [][]byte
recv:
	for {
		if err := sender.Send(want); err != nil {
			t.Fatalf("failed to send: %v", err)
		}
		select {
		case frames, ok := <-receiver.Recv():
			if !ok {
				t.Fatal("receive channel closed early")
			}
			got = frames
			break recv
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("timed out waiting for frames")
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected frames (-want +got):\n%s", diff)
	}
	if err := sender.Disconnect(addr); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}
	// Disconnecting an unknown address is not an error.
	if err := sender.Disconnect("tcp://127.0.0.1:1"); err != nil {
		t.Fatalf("expected nil for unknown disconnect, got %v", err)
	}
}

func TestSendWithNoPeers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, loopbackOptions())
	if err != nil {
		t.Fatalf("failed to create data channel: %v", err)
	}
	defer c.Close()
	if err := c.Listen(ctx); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	if err := c.Send([][]byte{[]byte("nobody listening")}); err != nil {
		t.Fatalf("expected no error sending to no peers, got %v", err)
	}
}

func TestConnectUnreachablePeer(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := loopbackOptions()
	opts.DialTimeout = 250 * time.Millisecond
	c, err := New(ctx, opts)
	if err != nil {
		t.Fatalf("failed to create data channel: %v", err)
	}
	defer c.Close()
	// Port 1 on loopback refuses connections.
	if err := c.Connect(ctx, "tcp://127.0.0.1:1"); err == nil {
		t.Fatal("expected connect to an unreachable peer to fail")
	}
}

func TestClosedChannel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, loopbackOptions())
	if err != nil {
		t.Fatalf("failed to create data channel: %v", err)
	}
	if err := c.Listen(ctx); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if err := c.Listen(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed from listen, got %v", err)
	}
	if err := c.Connect(ctx, "tcp://127.0.0.1:1"); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed from connect, got %v", err)
	}
	if err := c.Send([][]byte{[]byte("x")}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed from send, got %v", err)
	}
	select {
	case _, ok := <-c.Recv():
		if ok {
			t.Fatal("expected receive channel to be closed")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for receive channel close")
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Fatalf("expected idempotent close, got %v", err)
	}
}

func TestCloseWithoutListen(t *testing.T) {
	t.Parallel()
	c, err := New(context.Background(), loopbackOptions())
	if err != nil {
		t.Fatalf("failed to create data channel: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if _, ok := <-c.Recv(); ok {
		t.Fatal("expected receive channel to be closed")
	}
}
