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
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/identity"
	"github.com/webmeshproj/meshbus/pkg/transport"
	"github.com/webmeshproj/meshbus/pkg/transport/inproc"
)

// The intervals are the production defaults scaled down by a factor of
// forty so membership tests finish quickly. The ratios between them are
// what the algorithms care about.
const (
	testAdvertiseInterval = 25 * time.Millisecond
	testSweepInterval     = 25 * time.Millisecond
	testDeadNodeTimeout   = 250 * time.Millisecond
)

func testOptions() *Options {
	opts := NewOptions()
	opts.AdvertiseInterval = testAdvertiseInterval
	opts.SweepInterval = testSweepInterval
	opts.DeadNodeTimeout = testDeadNodeTimeout
	opts.Resolver = identity.NoopResolver()
	return opts
}

// startBus creates and starts a bus on the given in-memory network.
// Note the bus hears its own advertisements like any other node on the
// segment, so it tracks itself as a peer; tests filter events by the
// address they care about.
func startBus(ctx context.Context, t *testing.T, network *inproc.Network, host string, opts *Options) *Bus {
	t.Helper()
	if opts == nil {
		opts = testOptions()
	}
	b, err := New(ctx, network.NewBeacon(host), network.NewDataChannel(host), opts)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("failed to start bus: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			t.Errorf("failed to close bus: %v", err)
		}
	})
	return b
}

// pulse broadcasts a single advertisement. The hour-long interval keeps
// the beacon's own ticker from ever firing within a test, so every
// advertisement a test emits is one it asked for.
func pulse(ctx context.Context, t *testing.T, beacon transport.Beacon, payload string) {
	t.Helper()
	if err := beacon.Advertise(ctx, []byte(payload), time.Hour); err != nil {
		t.Fatalf("failed to advertise %q: %v", payload, err)
	}
}

// waitForEvent drains the event channel until the wanted event arrives.
// Events for other addresses are ignored; the bus discovering itself is
// the usual source of those.
func waitForEvent(ctx context.Context, t *testing.T, events <-chan Event, want Event) {
	t.Helper()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s %s", want.Type, want.Address)
			}
			if event == want {
				return
			}
			if event.Address == want.Address {
				t.Fatalf("expected %s for %s, got %s", want.Type, want.Address, event.Type)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s %s", want.Type, want.Address)
		}
	}
}

// drainEvents collects every event for the given address seen during
// the window.
func drainEvents(events <-chan Event, address string, window time.Duration) []Event {
	timer := time.NewTimer(window)
	defer timer.Stop()
	var got []Event
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return got
			}
			if event.Address == address {
				got = append(got, event)
			}
		case <-timer.C:
			return got
		}
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	network := inproc.NewNetwork()
	if _, err := New(ctx, nil, network.NewDataChannel("hosta"), testOptions()); err == nil {
		t.Fatal("expected an error without a discovery channel")
	}
	if _, err := New(ctx, network.NewBeacon("hosta"), nil, testOptions()); err == nil {
		t.Fatal("expected an error without a data channel")
	}
	opts := testOptions()
	opts.DeadNodeTimeout = opts.AdvertiseInterval
	if _, err := New(ctx, network.NewBeacon("hosta"), network.NewDataChannel("hosta"), opts); err == nil {
		t.Fatal("expected an error when the dead node timeout does not exceed the advertise interval")
	}
}

func TestNotStarted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	network := inproc.NewNetwork()
	b, err := New(ctx, network.NewBeacon("hosta"), network.NewDataChannel("hosta"), testOptions())
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	if err := b.Publish([]byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from publish, got %v", err)
	}
	if _, err := b.HostAddress(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from host address, got %v", err)
	}
	if _, err := b.Peers(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from peers, got %v", err)
	}
	if err := b.Close(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from close, got %v", err)
	}
}

// TestIdempotentRefresh sends several advertisements from the same
// (name, port) pair within the dead-node timeout and expects exactly
// one "node added" notification; the rest are silent refreshes.
func TestIdempotentRefresh(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)
	peer := network.NewBeacon("peera")
	defer peer.Close()

	const addr = "tcp://peera:4000"
	pulse(ctx, t, peer, "4000")
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: addr})
	for i := 0; i < 4; i++ {
		time.Sleep(testAdvertiseInterval)
		pulse(ctx, t, peer, "4000")
	}
	// The watch window stays well inside the dead-node timeout so no
	// removal can slip in.
	if extra := drainEvents(b.Events(), addr, testDeadNodeTimeout/2); len(extra) != 0 {
		t.Fatalf("expected silent refreshes, got %v", extra)
	}
	peers, err := b.Peers(ctx)
	if err != nil {
		t.Fatalf("failed to list peers: %v", err)
	}
	var count int
	for _, peer := range peers {
		if peer == addr {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry for %s, got %d in %v", addr, count, peers)
	}
}

// TestExpiryScenario is the end-to-end membership scenario: a peer
// advertises on the beacon interval, falls silent, and is removed once
// the dead-node timeout passes. Exactly one "node added" and exactly
// one "node removed" are observed.
func TestExpiryScenario(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)
	peer := network.NewBeacon("peera")
	defer peer.Close()

	const addr = "tcp://peera:4000"
	pulse(ctx, t, peer, "4000")
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: addr})
	for i := 0; i < 9; i++ {
		time.Sleep(testAdvertiseInterval)
		pulse(ctx, t, peer, "4000")
	}
	lastPulse := time.Now()

	// Nothing more is heard from the peer. The removal must come no
	// earlier than the dead-node timeout after the last advertisement
	// and, sweep granularity plus scheduling slack aside, not much
	// later.
	var (
		removedAt time.Time
		events    []Event
	)
	deadline := time.After(testDeadNodeTimeout + 10*testSweepInterval)
watch:
	for {
		select {
		case event, ok := <-b.Events():
			if !ok {
				t.Fatal("event channel closed mid-scenario")
			}
			if event.Address != addr {
				continue
			}
			events = append(events, event)
			if event.Type == NodeRemoved {
				removedAt = time.Now()
				break watch
			}
		case <-deadline:
			t.Fatalf("peer was not removed, saw events %v", events)
		}
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one removal and no other events, got %v", events)
	}
	if elapsed := removedAt.Sub(lastPulse); elapsed < testDeadNodeTimeout {
		t.Fatalf("peer removed after %s, before the %s timeout", elapsed, testDeadNodeTimeout)
	}
	if peers, err := b.Peers(ctx); err != nil {
		t.Fatalf("failed to list peers: %v", err)
	} else {
		for _, peer := range peers {
			if peer == addr {
				t.Fatalf("expected %s to be gone from the table, got %v", addr, peers)
			}
		}
	}
}

// TestDistinctness tracks peers sharing a name or a port as distinct
// entries: identity is the (name, port) pair.
func TestDistinctness(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)
	peerA := network.NewBeacon("peera")
	defer peerA.Close()
	peerB := network.NewBeacon("peerb")
	defer peerB.Close()

	pulse(ctx, t, peerA, "4000")
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peera:4000"})
	// Same name, different port.
	pulse(ctx, t, peerA, "4001")
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peera:4001"})
	// Same port, different name.
	pulse(ctx, t, peerB, "4000")
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peerb:4000"})

	peers, err := b.Peers(ctx)
	if err != nil {
		t.Fatalf("failed to list peers: %v", err)
	}
	want := map[string]bool{
		"tcp://peera:4000": true,
		"tcp://peera:4001": true,
		"tcp://peerb:4000": true,
	}
	for _, peer := range peers {
		delete(want, peer)
	}
	if len(want) != 0 {
		t.Fatalf("peers %v missing from %v", want, peers)
	}
}

// TestMalformedPayload tolerates a non-numeric advertisement payload as
// port zero instead of dropping it.
func TestMalformedPayload(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)
	peer := network.NewBeacon("peera")
	defer peer.Close()

	pulse(ctx, t, peer, "not-a-port")
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peera:0"})
	// Out-of-range ports are malformed too.
	pulse(ctx, t, peer, "70000")
	if extra := drainEvents(b.Events(), "tcp://peera:0", testDeadNodeTimeout/2); len(extra) != 0 {
		t.Fatalf("expected the second malformed payload to refresh the same entry, got %v", extra)
	}
}

// TestHostAddressRoundTrip checks the bound data address against the
// port advertised on the discovery channel.
func TestHostAddressRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	observer := network.NewBeacon("observer")
	defer observer.Close()
	b := startBus(ctx, t, network, "bus0", nil)

	hostAddr, err := b.HostAddress(ctx)
	if err != nil {
		t.Fatalf("failed to get host address: %v", err)
	}
	host, port, err := net.SplitHostPort(hostAddr)
	if err != nil {
		t.Fatalf("host address %q is not host:port: %v", hostAddr, err)
	}
	if host != "bus0" {
		t.Fatalf("expected host bus0, got %q", host)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		t.Fatalf("bound port %q is not a 16-bit port: %v", port, err)
	}
	for {
		select {
		case adv, ok := <-observer.Recv():
			if !ok {
				t.Fatal("observer closed early")
			}
			if adv.Host != "bus0" {
				continue
			}
			if got := string(adv.Payload); got != port {
				t.Fatalf("advertised port %q does not match bound port %q", got, port)
			}
			return
		case <-ctx.Done():
			t.Fatal("timed out waiting for the bus advertisement")
		}
	}
}

// TestForwardFidelity injects frame-sequences into the data channel and
// expects the owner to observe them unmodified in content and count.
func TestForwardFidelity(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)
	sender := network.NewDataChannel("peera")
	defer sender.Close()

	hostAddr, err := b.HostAddress(ctx)
	if err != nil {
		t.Fatalf("failed to get host address: %v", err)
	}
	if err := sender.Connect(ctx, "tcp://"+hostAddr); err != nil {
		t.Fatalf("failed to connect to the bus: %v", err)
	}
	sent := [][][]byte{
		{[]byte("topic"), []byte("payload")},
		{[]byte("single")},
		{[]byte("first"), {}, {0x00, 0xff, 0x7f}},
	}
	for _, frames := range sent {
		if err := sender.Send(frames); err != nil {
			t.Fatalf("failed to send frames: %v", err)
		}
	}
	for i, want := range sent {
		select {
		case got, ok := <-b.Messages():
			if !ok {
				t.Fatal("message channel closed early")
			}
			if diff := cmp.Diff(want, [][]byte(got)); diff != "" {
				t.Fatalf("message %d arrived modified (-want +got):\n%s", i, diff)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

// TestPublish publishes frames and expects every connected peer to
// receive them, the bus's own subscription included: a node hears its
// own broadcasts, discovers itself, and so receives its own messages.
func TestPublish(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)

	// A full peer: a listening data channel advertised on the beacon.
	peerData := network.NewDataChannel("peera")
	defer peerData.Close()
	if err := peerData.Listen(ctx); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	peerBeacon := network.NewBeacon("peera")
	defer peerBeacon.Close()
	port := strconv.Itoa(int(peerData.Port()))
	pulse(ctx, t, peerBeacon, port)
	waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peera:" + port})

	want := [][]byte{[]byte("P"), []byte("hello"), []byte("world")}
	if err := b.Publish(want...); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	select {
	case got, ok := <-peerData.Recv():
		if !ok {
			t.Fatal("peer receive channel closed early")
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("peer received modified frames (-want +got):\n%s", diff)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the peer to receive the frames")
	}
	select {
	case got, ok := <-b.Messages():
		if !ok {
			t.Fatal("message channel closed early")
		}
		if diff := cmp.Diff(want, [][]byte(got)); diff != "" {
			t.Fatalf("self-delivery arrived modified (-want +got):\n%s", diff)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the self-delivered frames")
	}
}

// TestRetryOnRefresh exercises the connect-retry policy: a peer whose
// data channel was not reachable when it was first discovered is
// connected on a later advertisement when retry-on-refresh is enabled,
// and stays unconnected when it is disabled.
func TestRetryOnRefresh(t *testing.T) {
	t.Parallel()
	t.Run("Enabled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		network := inproc.NewNetwork()
		b := startBus(ctx, t, network, "bus0", nil)
		peerBeacon := network.NewBeacon("peera")
		defer peerBeacon.Close()

		// The bus bound the network's first port, so the peer's listen
		// below is assigned the next one. Advertise it before anything
		// is listening there to make the first connect fail.
		peerData := network.NewDataChannel("peera")
		defer peerData.Close()
		const port = "61001"
		pulse(ctx, t, peerBeacon, port)
		waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peera:" + port})

		if err := peerData.Listen(ctx); err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		if got := strconv.Itoa(int(peerData.Port())); got != port {
			t.Fatalf("expected the peer to bind port %s, got %s", port, got)
		}
		// The next advertisement refreshes the entry and retries the
		// connect, after which publishes reach the peer.
		pulse(ctx, t, peerBeacon, port)
		want := [][]byte{[]byte("retried")}
		ticker := time.NewTicker(testAdvertiseInterval)
		defer ticker.Stop()
		for {
			if err := b.Publish(want...); err != nil {
				t.Fatalf("failed to publish: %v", err)
			}
			select {
			case got, ok := <-peerData.Recv():
				if !ok {
					t.Fatal("peer receive channel closed early")
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("peer received modified frames (-want +got):\n%s", diff)
				}
				return
			case <-ticker.C:
				// Keep refreshing until the reactor has retried.
				pulse(ctx, t, peerBeacon, port)
			case <-ctx.Done():
				t.Fatal("timed out waiting for the retried connect to deliver")
			}
		}
	})
	t.Run("Disabled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		network := inproc.NewNetwork()
		opts := testOptions()
		opts.RetryOnRefresh = false
		b := startBus(ctx, t, network, "bus0", opts)
		peerBeacon := network.NewBeacon("peera")
		defer peerBeacon.Close()

		peerData := network.NewDataChannel("peera")
		defer peerData.Close()
		const port = "61001"
		pulse(ctx, t, peerBeacon, port)
		waitForEvent(ctx, t, b.Events(), Event{Type: NodeAdded, Address: "tcp://peera:" + port})

		if err := peerData.Listen(ctx); err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		pulse(ctx, t, peerBeacon, port)
		// Give the reactor ample time to process the refresh, then
		// confirm publishes still do not reach the peer.
		time.Sleep(4 * testAdvertiseInterval)
		if err := b.Publish([]byte("dropped")); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
		select {
		case frames := <-peerData.Recv():
			t.Fatalf("expected no delivery without retry-on-refresh, got %q", frames)
		case <-time.After(4 * testAdvertiseInterval):
		}
	})
}

// TestUnknownCommand feeds the reactor a command it does not know and
// expects it to keep serving.
func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	network := inproc.NewNetwork()
	b := startBus(ctx, t, network, "bus0", nil)
	if err := b.enqueue(ctx, command{kind: commandKind(42)}); err != nil {
		t.Fatalf("failed to enqueue unknown command: %v", err)
	}
	if _, err := b.HostAddress(ctx); err != nil {
		t.Fatalf("expected the reactor to keep serving, got %v", err)
	}
}

// TestClose covers both stop paths: the terminate command and context
// cancellation. Both release the channels and close the notification
// channels.
func TestClose(t *testing.T) {
	t.Parallel()
	t.Run("Terminate", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		network := inproc.NewNetwork()
		b, err := New(ctx, network.NewBeacon("bus0"), network.NewDataChannel("bus0"), testOptions())
		if err != nil {
			t.Fatalf("failed to create bus: %v", err)
		}
		if err := b.Start(ctx); err != nil {
			t.Fatalf("failed to start bus: %v", err)
		}
		if err := b.Close(ctx); err != nil {
			t.Fatalf("failed to close bus: %v", err)
		}
		select {
		case <-b.Done():
		case <-ctx.Done():
			t.Fatal("timed out waiting for the bus to stop")
		}
		for range b.Events() {
		}
		for range b.Messages() {
		}
		// Closing again is not an error.
		if err := b.Close(ctx); err != nil {
			t.Fatalf("expected idempotent close, got %v", err)
		}
		if _, err := b.HostAddress(ctx); err == nil {
			t.Fatal("expected an error from a stopped bus")
		}
	})
	t.Run("ContextCanceled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		runCtx, stop := context.WithCancel(ctx)
		network := inproc.NewNetwork()
		b, err := New(ctx, network.NewBeacon("bus0"), network.NewDataChannel("bus0"), testOptions())
		if err != nil {
			t.Fatalf("failed to create bus: %v", err)
		}
		if err := b.Start(runCtx); err != nil {
			t.Fatalf("failed to start bus: %v", err)
		}
		stop()
		select {
		case <-b.Done():
		case <-ctx.Done():
			t.Fatal("timed out waiting for cancellation to stop the bus")
		}
		for range b.Events() {
		}
		for range b.Messages() {
		}
	})
}
