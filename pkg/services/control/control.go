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

// Package control exposes a running bus to external owners over a pair
// of ZeroMQ sockets. The command socket serves the request/reply
// vocabulary; the feed socket publishes membership events and every
// frame-sequence the bus receives, each behind a one-frame envelope so
// tailers can tell the two streams apart without touching payloads.
package control

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"github.com/go-zeromq/zmq4"
	"golang.org/x/sync/errgroup"

	"github.com/webmeshproj/meshbus/pkg/bus"
	"github.com/webmeshproj/meshbus/pkg/context"
)

// The command vocabulary served on the command socket. Requests are
// multipart messages whose first frame names the command.
const (
	// CommandPublish forwards the remaining frames verbatim to every
	// connected peer. The reply is ReplyOK.
	CommandPublish = "P"
	// CommandHostAddress requests the bound data address. The reply is
	// a single "<host>:<port>" frame.
	CommandHostAddress = "GetHostAddress"
	// CommandListPeers requests the live peer addresses. The reply
	// carries one frame per peer, or a single empty frame when the
	// table is empty.
	CommandListPeers = "ListPeers"
	// CommandTerminate stops the bus. The reply is ReplyOK, sent before
	// the bus unwinds.
	CommandTerminate = "Terminate"
)

// Envelopes on the feed socket. Events are three-frame messages
// (FeedEvent, type, address); forwarded payloads are the received
// frames behind a single FeedMessage frame.
const (
	FeedEvent   = "event"
	FeedMessage = "message"
)

const (
	// ReplyOK acknowledges fire-and-forget commands.
	ReplyOK = "OK"
	// ReplyErrPrefix starts every error reply, followed by a space and
	// the reason.
	ReplyErrPrefix = "ERR"
)

// Server exposes a bus over the control sockets. A server is created
// over a started bus, serves until Shutdown, and closes both sockets on
// the way out.
type Server struct {
	opts   *Options
	bus    *bus.Bus
	rep    zmq4.Socket
	pub    zmq4.Socket
	readyc chan struct{}
	closec chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// New returns a control server for the given bus. The given context
// scopes the lifetime of the server's sockets.
func New(ctx context.Context, b *bus.Bus, opts *Options) (*Server, error) {
	if b == nil {
		return nil, errors.New("a bus is required")
	}
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	s := &Server{
		opts:   opts,
		bus:    b,
		readyc: make(chan struct{}),
		closec: make(chan struct{}),
		log:    context.LoggerFrom(ctx).With(slog.String("component", "control-server")),
	}
	s.rep = zmq4.NewRep(ctx, zmq4.WithLogger(s.socketLogger()))
	s.pub = zmq4.NewPub(ctx, zmq4.WithLogger(s.socketLogger()))
	return s, nil
}

// ListenAndServe binds both sockets and serves until the context is
// canceled, the server is shut down, or a socket fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.rep.Listen(s.opts.ListenAddress); err != nil {
		return fmt.Errorf("bind command socket: %w", err)
	}
	if err := s.pub.Listen(s.opts.FeedAddress); err != nil {
		return fmt.Errorf("bind feed socket: %w", err)
	}
	s.log.Info("control server is ready",
		slog.String("listen-address", s.Address()),
		slog.String("feed-address", s.FeedAddress()))
	close(s.readyc)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveCommands(ctx) })
	g.Go(func() error { return s.pumpFeed(ctx) })
	return g.Wait()
}

// Ready returns a channel closed once both sockets are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.readyc
}

// Address returns the command socket's bound endpoint. Valid only
// after Ready.
func (s *Server) Address() string {
	if addr := s.rep.Addr(); addr != nil {
		return "tcp://" + addr.String()
	}
	return s.opts.ListenAddress
}

// FeedAddress returns the feed socket's bound endpoint. Valid only
// after Ready.
func (s *Server) FeedAddress() string {
	if addr := s.pub.Addr(); addr != nil {
		return "tcp://" + addr.String()
	}
	return s.opts.FeedAddress
}

// Shutdown closes both sockets and stops the serve loops. The bus
// itself is left to its owner.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	s.once.Do(func() {
		s.log.Info("shutting down control server")
		close(s.closec)
		if err := s.rep.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close command socket: %w", err))
		}
		if err := s.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close feed socket: %w", err))
		}
	})
	return errors.Join(errs...)
}

// serveCommands answers one request at a time. Every request gets a
// reply; a malformed or unknown request gets an error reply and the
// loop keeps serving.
func (s *Server) serveCommands(ctx context.Context) error {
	for {
		msg, err := s.rep.Recv()
		if err != nil {
			if s.closing(ctx) {
				return nil
			}
			return fmt.Errorf("receive command: %w", err)
		}
		reply, terminate := s.handle(ctx, msg.Frames)
		if err := s.rep.Send(reply); err != nil {
			if s.closing(ctx) {
				return nil
			}
			return fmt.Errorf("send reply: %w", err)
		}
		if terminate {
			// The reply went out first so the requester is not left
			// hanging on a socket that is about to disappear.
			if err := s.bus.Close(ctx); err != nil {
				s.log.Warn("failed to stop the bus", slog.String("error", err.Error()))
			}
		}
	}
}

// handle dispatches one request. It returns the reply and whether the
// bus should be stopped after the reply is sent.
func (s *Server) handle(ctx context.Context, frames [][]byte) (zmq4.Msg, bool) {
	if len(frames) == 0 {
		return errReply(errors.New("empty command")), false
	}
	cmd := string(frames[0])
	switch cmd {
	case CommandPublish:
		if err := s.bus.Publish(frames[1:]...); err != nil {
			return errReply(err), false
		}
		return zmq4.NewMsgString(ReplyOK), false
	case CommandHostAddress:
		addr, err := s.bus.HostAddress(ctx)
		if err != nil {
			return errReply(err), false
		}
		return zmq4.NewMsgString(addr), false
	case CommandListPeers:
		peers, err := s.bus.Peers(ctx)
		if err != nil {
			return errReply(err), false
		}
		if len(peers) == 0 {
			return zmq4.NewMsg(nil), false
		}
		return zmq4.NewMsgFromString(peers), false
	case CommandTerminate:
		s.log.Info("terminate requested")
		return zmq4.NewMsgString(ReplyOK), true
	default:
		s.log.Warn("unknown command", slog.String("command", cmd))
		return errReply(errors.New("unknown command")), false
	}
}

// pumpFeed copies membership events and forwarded messages onto the
// feed socket until the bus stops or the server shuts down.
func (s *Server) pumpFeed(ctx context.Context) error {
	events := s.bus.Events()
	messages := s.bus.Messages()
	for events != nil || messages != nil {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closec:
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			msg := zmq4.NewMsgFrom([]byte(FeedEvent), []byte(event.Type), []byte(event.Address))
			if err := s.pub.Send(msg); err != nil {
				if s.closing(ctx) {
					return nil
				}
				s.log.Warn("failed to publish event", slog.String("error", err.Error()))
			}
		case frames, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			out := make([][]byte, 0, len(frames)+1)
			out = append(out, []byte(FeedMessage))
			out = append(out, frames...)
			if err := s.pub.Send(zmq4.NewMsgFrom(out...)); err != nil {
				if s.closing(ctx) {
					return nil
				}
				s.log.Warn("failed to publish message", slog.String("error", err.Error()))
			}
		}
	}
	s.log.Debug("bus stopped, feed drained")
	return nil
}

func (s *Server) closing(ctx context.Context) bool {
	select {
	case <-s.closec:
		return true
	default:
		return ctx.Err() != nil
	}
}

func errReply(err error) zmq4.Msg {
	return zmq4.NewMsgString(ReplyErrPrefix + " " + err.Error())
}

// socketLogger adapts the server's logger for zmq4's internal logging.
func (s *Server) socketLogger() *log.Logger {
	return slog.NewLogLogger(s.log.Handler(), slog.LevelDebug)
}
