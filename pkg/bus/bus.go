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

// Package bus implements the core of the mesh bus: a single-goroutine
// reactor that discovers peers from broadcast advertisements, keeps
// the membership table and the data-plane connection set in lock-step,
// and exposes a command interface to the owning process.
//
// The reactor multiplexes four event sources through one select: owner
// commands, inbound data frames, inbound advertisements, and the sweep
// timer. Exactly one batch of work is processed per wake, and all bus
// state is owned by the reactor goroutine, so no locking discipline is
// needed around the membership table or the connection set.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/identity"
	"github.com/webmeshproj/meshbus/pkg/membership"
	"github.com/webmeshproj/meshbus/pkg/transport"
)

var (
	// ErrClosed is returned by operations on a bus that has stopped.
	ErrClosed = errors.New("bus closed")
	// ErrNotStarted is returned by operations that require a running
	// reactor.
	ErrNotStarted = errors.New("bus not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bus already started")
)

const (
	// commandBuffer decouples short owner command bursts from the
	// reactor.
	commandBuffer = 16
	// eventBuffer is the owner-facing membership notification buffer.
	eventBuffer = 32
	// messageBuffer is the owner-facing inbound payload buffer. The
	// reactor blocks when it is full; there is no backpressure beyond
	// that.
	messageBuffer = 128
)

// Bus is the reactor at the core of the mesh. A bus is constructed
// over a discovery channel and a data channel, started once, and
// stopped by Close or by cancellation of the start context. Both stop
// paths release the channels, the timer, and the notification channels
// the same way.
type Bus struct {
	opts     *Options
	beacon   transport.Beacon
	data     transport.DataChannel
	table    *membership.Table
	conn     *connector
	resolver identity.Resolver
	metrics  *metrics

	cmdc   chan command
	eventc chan Event
	msgc   chan Message
	donec  chan struct{}

	mu      sync.Mutex
	started bool

	log *slog.Logger
}

// New returns a bus over the given channels. The discovery channel
// should already be bound to the configured discovery port; the data
// channel's receive side is bound when the bus starts.
func New(ctx context.Context, beacon transport.Beacon, data transport.DataChannel, opts *Options) (*Bus, error) {
	if beacon == nil {
		return nil, errors.New("a discovery channel is required")
	}
	if data == nil {
		return nil, errors.New("a data channel is required")
	}
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = identity.NewResolver(identity.ResolverOptions{})
	}
	return &Bus{
		opts:     opts,
		beacon:   beacon,
		data:     data,
		table:    membership.New(),
		conn:     newConnector(data, opts.MaxConnectRetries, opts.ConnectRetryInterval),
		resolver: resolver,
		metrics:  newMetrics(opts.MetricsRegisterer),
		cmdc:     make(chan command, commandBuffer),
		eventc:   make(chan Event, eventBuffer),
		msgc:     make(chan Message, messageBuffer),
		donec:    make(chan struct{}),
		log:      context.LoggerFrom(ctx).With(slog.String("component", "bus")),
	}, nil
}

// Start binds the data channel's receive side, begins advertising its
// bound port on the discovery channel, arms the sweep timer, and
// launches the reactor. The bus is ready when Start returns. The given
// context scopes the reactor: cancellation stops it the same way a
// terminate command does.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	if err := b.data.Listen(ctx); err != nil {
		return fmt.Errorf("bind data channel: %w", err)
	}
	payload := strconv.FormatUint(uint64(b.data.Port()), 10)
	if err := b.beacon.Advertise(ctx, []byte(payload), b.opts.AdvertiseInterval); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	b.log = b.log.With(slog.String("local", b.data.HostAddress()))
	b.log.Info("bus is ready",
		slog.String("advertised-port", payload),
		slog.Duration("advertise-interval", b.opts.AdvertiseInterval),
		slog.Duration("dead-node-timeout", b.opts.DeadNodeTimeout))
	b.started = true
	go b.run(context.WithLogger(ctx, b.log))
	return nil
}

// Events returns the membership notification channel. The channel is
// closed when the bus stops. The owner must drain it; the reactor
// blocks once the buffer fills.
func (b *Bus) Events() <-chan Event {
	return b.eventc
}

// Messages returns the channel of frame-sequences received on the data
// channel, forwarded unmodified. The channel is closed when the bus
// stops. The owner must drain it; the reactor blocks once the buffer
// fills.
func (b *Bus) Messages() <-chan Message {
	return b.msgc
}

// Done returns a channel closed after the reactor has stopped and
// released its resources.
func (b *Bus) Done() <-chan struct{} {
	return b.donec
}

// Publish forwards the frames verbatim to every connected peer. It is
// fire-and-forget: there is no acknowledgement and no delivery
// guarantee beyond what the data channel provides.
func (b *Bus) Publish(frames ...[]byte) error {
	return b.enqueue(context.Background(), command{kind: cmdPublish, frames: frames})
}

// HostAddress returns the bound address of the data channel's receive
// side as "<host>:<port>".
func (b *Bus) HostAddress(ctx context.Context) (string, error) {
	reply, err := b.request(ctx, cmdHostAddress)
	if err != nil {
		return "", err
	}
	return reply[0], nil
}

// Peers returns the connection addresses of the peers currently in the
// membership table, sorted.
func (b *Bus) Peers(ctx context.Context) ([]string, error) {
	return b.request(ctx, cmdListPeers)
}

// Close stops the reactor after its in-flight dispatch completes and
// waits for its resources to be released. Closing an already stopped
// bus is not an error.
func (b *Bus) Close(ctx context.Context) error {
	if !b.isStarted() {
		return ErrNotStarted
	}
	select {
	case b.cmdc <- command{kind: cmdTerminate}:
	case <-b.donec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-b.donec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) isStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// enqueue hands a command to the reactor. It blocks until the reactor
// accepts it, the bus stops, or the context is done.
func (b *Bus) enqueue(ctx context.Context, cmd command) error {
	if !b.isStarted() {
		return ErrNotStarted
	}
	select {
	case b.cmdc <- cmd:
		return nil
	case <-b.donec:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// request enqueues a command carrying a reply channel and waits for
// the single reply.
func (b *Bus) request(ctx context.Context, kind commandKind) ([]string, error) {
	replyc := make(chan []string, 1)
	if err := b.enqueue(ctx, command{kind: kind, replyc: replyc}); err != nil {
		return nil, err
	}
	select {
	case reply := <-replyc:
		return reply, nil
	case <-b.donec:
		// The reactor may have replied just before stopping.
		select {
		case reply := <-replyc:
			return reply, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the reactor. It blocks until one of the four event sources
// has work, processes exactly one batch, and blocks again. Every exit
// path converges on release.
func (b *Bus) run(ctx context.Context) {
	defer b.release()
	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()
	advc := b.beacon.Recv()
	datac := b.data.Recv()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("context canceled, stopping bus")
			return
		case cmd := <-b.cmdc:
			if b.handleCommand(cmd) {
				return
			}
		case frames, ok := <-datac:
			if !ok {
				b.log.Warn("data channel receive side closed")
				datac = nil
				continue
			}
			b.forward(frames)
		case adv, ok := <-advc:
			if !ok {
				b.log.Warn("discovery channel receive side closed")
				advc = nil
				continue
			}
			b.handleAdvertisement(ctx, adv)
		case now := <-ticker.C:
			b.sweep(now)
		}
	}
}

// handleCommand dispatches one owner command. It reports whether the
// reactor should stop.
func (b *Bus) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdTerminate:
		b.log.Info("terminate received, stopping bus")
		return true
	case cmdPublish:
		b.metrics.messagesPublished.Inc()
		if err := b.data.Send(cmd.frames); err != nil {
			b.log.Warn("failed to publish frames", slog.String("error", err.Error()))
		}
	case cmdHostAddress:
		cmd.replyc <- []string{b.data.HostAddress()}
	case cmdListPeers:
		nodes := b.table.Nodes()
		addrs := make([]string, 0, len(nodes))
		for _, node := range nodes {
			addrs = append(addrs, node.Address())
		}
		cmd.replyc <- addrs
	default:
		// Unknown commands are ignored; the reactor keeps running.
		b.log.Warn("ignoring unknown command", slog.String("command", cmd.kind.String()))
	}
	return false
}

// forward hands one received frame-sequence to the owner unmodified.
func (b *Bus) forward(frames [][]byte) {
	b.metrics.messagesForwarded.Inc()
	b.msgc <- Message(frames)
}

// handleAdvertisement runs the join/refresh algorithm on one received
// advertisement. The payload is parsed as a decimal port; malformed
// payloads are tolerated as port zero rather than dropped, so they
// still yield a (host, 0) identity.
func (b *Bus) handleAdvertisement(ctx context.Context, adv transport.Advertisement) {
	b.metrics.beaconsReceived.Inc()
	port, err := strconv.ParseUint(string(adv.Payload), 10, 16)
	if err != nil {
		// ParseUint clamps range errors to the maximum, so zero the
		// port for every malformed payload.
		port = 0
		b.log.Debug("malformed advertisement payload, tolerating as port zero",
			slog.String("payload", string(adv.Payload)), slog.String("host", adv.Host))
	}
	node := identity.NewNode(ctx, b.resolver, adv.Host, uint16(port))
	b.joinOrRefresh(ctx, node, time.Now())
}

// joinOrRefresh inserts a previously unknown peer, connects the data
// plane to it, and notifies the owner. A known peer only has its
// last-seen time refreshed: no notification and no reconnect, except
// that a connect which failed earlier is retried when retry-on-refresh
// is enabled.
func (b *Bus) joinOrRefresh(ctx context.Context, node identity.Node, now time.Time) {
	address := node.Address()
	if added := b.table.Touch(node, now); !added {
		if b.opts.RetryOnRefresh && !b.conn.Connected(address) {
			if err := b.conn.Connect(ctx, address); err != nil {
				b.metrics.connectFailures.Inc()
				b.log.Debug("data plane connect retry failed",
					slog.String("peer", address), slog.String("error", err.Error()))
				return
			}
			b.log.Info("data plane connected on refresh", slog.String("peer", address))
		}
		return
	}
	b.metrics.joins.Inc()
	b.metrics.peers.Set(float64(b.table.Len()))
	b.log.Info("node added", slog.String("peer", address), slog.String("hostname", node.Hostname))
	if err := b.conn.Connect(ctx, address); err != nil {
		// The entry stays in the table; the connect is retried on the
		// peer's next advertisement when retry-on-refresh is enabled.
		b.metrics.connectFailures.Inc()
		b.log.Warn("failed to connect data plane",
			slog.String("peer", address), slog.String("error", err.Error()))
	}
	b.eventc <- Event{Type: NodeAdded, Address: address}
}

// sweep removes every peer that has stayed silent past the dead-node
// timeout, disconnects the data plane from it, and notifies the owner.
// Removal, disconnect, and notification are atomic from the owner's
// perspective because nothing else runs on the reactor mid-sweep.
func (b *Bus) sweep(now time.Time) {
	removed := b.table.Sweep(now, b.opts.DeadNodeTimeout)
	if len(removed) == 0 {
		return
	}
	b.metrics.peers.Set(float64(b.table.Len()))
	for _, node := range removed {
		address := node.Address()
		b.metrics.expiries.Inc()
		b.log.Info("node removed",
			slog.String("peer", address), slog.Duration("timeout", b.opts.DeadNodeTimeout))
		if err := b.conn.Disconnect(address); err != nil {
			b.log.Warn("failed to disconnect data plane",
				slog.String("peer", address), slog.String("error", err.Error()))
		}
		b.eventc <- Event{Type: NodeRemoved, Address: address}
	}
}

// release converges every reactor exit path: both channels are closed,
// the notification channels are closed, and waiters are released.
func (b *Bus) release() {
	if err := b.beacon.Close(); err != nil {
		b.log.Warn("failed to close discovery channel", slog.String("error", err.Error()))
	}
	if err := b.data.Close(); err != nil {
		b.log.Warn("failed to close data channel", slog.String("error", err.Error()))
	}
	close(b.eventc)
	close(b.msgc)
	close(b.donec)
	b.log.Info("bus stopped")
}
