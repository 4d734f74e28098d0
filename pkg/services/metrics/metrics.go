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

// Package metrics contains the HTTP server for exposing Prometheus metrics.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/util"
)

const (
	// DefaultListenAddress is the default listen address for the metrics server.
	DefaultListenAddress = "[::]:8080"
	// DefaultPath is the default path the metrics are exposed on.
	DefaultPath = "/metrics"

	// EnabledEnvVar is the environment variable for enabling the server.
	EnabledEnvVar = "MESHBUS_METRICS_ENABLED"
	// ListenAddressEnvVar is the environment variable for the listen address.
	ListenAddressEnvVar = "MESHBUS_METRICS_LISTEN_ADDRESS"
	// PathEnvVar is the environment variable for the metrics path.
	PathEnvVar = "MESHBUS_METRICS_PATH"
)

// Options contains the configuration for exposing bus metrics.
type Options struct {
	// Enabled enables the metrics server.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	// ListenAddress is the address to start the metrics server on.
	ListenAddress string `json:"listen-address,omitempty" yaml:"listen-address,omitempty" toml:"listen-address,omitempty"`
	// Path is the path to expose metrics on.
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// NewOptions returns new Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		ListenAddress: DefaultListenAddress,
		Path:          DefaultPath,
	}
}

// BindFlags binds the options to the given flag set.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "metrics.enabled", util.GetEnvBoolDefault(EnabledEnvVar, false),
		"Expose Prometheus metrics over HTTP.")
	fs.StringVar(&o.ListenAddress, "metrics.listen-address", util.GetEnvDefault(ListenAddressEnvVar, DefaultListenAddress),
		"Address to start the metrics server on.")
	fs.StringVar(&o.Path, "metrics.path", util.GetEnvDefault(PathEnvVar, DefaultPath),
		"Path to expose metrics on.")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options are nil")
	}
	if !o.Enabled {
		return nil
	}
	if o.ListenAddress == "" {
		return errors.New("metrics listen address must not be empty")
	}
	if o.Path == "" {
		return errors.New("metrics path must not be empty")
	}
	return nil
}

// Server is the metrics server.
type Server struct {
	Options
	srv *http.Server
	log *slog.Logger
}

// New returns a new metrics server.
func New(ctx context.Context, o *Options) *Server {
	return &Server{
		Options: *o,
		log:     context.LoggerFrom(ctx).With(slog.String("component", "metrics-server")),
	}
}

// ListenAndServe starts the server and blocks until the server exits.
func (s *Server) ListenAndServe() error {
	s.log.Info("starting metrics server",
		slog.String("listen-address", s.ListenAddress), slog.String("path", s.Path))
	mux := http.NewServeMux()
	mux.Handle(s.Path, promhttp.Handler())
	s.srv = &http.Server{
		Addr:    s.ListenAddress,
		Handler: mux,
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown attempts to stop the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.log.Info("shutting down metrics server")
	return s.srv.Shutdown(ctx)
}
