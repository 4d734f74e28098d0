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

// Package busdcmd contains the entrypoint for the mesh bus daemon.
package busdcmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/webmeshproj/meshbus/pkg/bus"
	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/logging"
	"github.com/webmeshproj/meshbus/pkg/services/control"
	"github.com/webmeshproj/meshbus/pkg/services/metrics"
	"github.com/webmeshproj/meshbus/pkg/transport/broadcast"
	"github.com/webmeshproj/meshbus/pkg/transport/zmq"
	"github.com/webmeshproj/meshbus/pkg/util"
	"github.com/webmeshproj/meshbus/pkg/version"
)

// shutdownTimeout bounds the graceful stop of the bus and its services.
const shutdownTimeout = 30 * time.Second

var (
	flagset     = pflag.NewFlagSet("meshbusd", pflag.ContinueOnError)
	versionFlag = flagset.Bool("version", false, "Print version information and exit")
	configFlag  = flagset.String("config", "", "Path to a configuration file")
	printConfig = flagset.Bool("print-config", false, "Print the configuration and exit")
	opts        = NewOptions().BindFlags(flagset)
)

func Execute() error {
	flagset.Usage = usage
	err := flagset.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *versionFlag {
		fmt.Println("Mesh Bus Daemon")
		fmt.Println("  Version:   ", version.Version)
		fmt.Println("  Commit:    ", version.GitCommit)
		fmt.Println("  Build Date:", version.BuildDate)
		return nil
	}

	if *configFlag != "" {
		err := util.DecodeOptionsFile(*configFlag, opts)
		if err != nil {
			return fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if *printConfig {
		out, err := json.MarshalIndent(opts, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if err := opts.Validate(); err != nil {
		flagset.Usage()
		return err
	}

	log := logging.SetupLogging(opts.Global.LogLevel, opts.Global.LogFormat)
	log.Info("starting mesh bus daemon",
		slog.String("version", version.Version),
		slog.String("commit", version.GitCommit),
		slog.String("buildDate", version.BuildDate),
	)

	// Log all options at debug level
	log.Debug("current configuration", slog.Any("options", opts))

	ctx := context.WithLogger(context.Background(), log)

	// Create the transports
	beacon, err := broadcast.New(ctx, opts.Discovery)
	if err != nil {
		return fmt.Errorf("failed to create discovery channel: %w", err)
	}
	data, err := zmq.New(ctx, opts.Data)
	if err != nil {
		if cerr := beacon.Close(); cerr != nil {
			log.Error("failed to close discovery channel", slog.String("error", cerr.Error()))
		}
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	handleErr := func(cause error) error {
		if err := beacon.Close(); err != nil {
			log.Error("failed to close discovery channel", slog.String("error", err.Error()))
		}
		if err := data.Close(); err != nil {
			log.Error("failed to close data channel", slog.String("error", err.Error()))
		}
		return cause
	}

	// Create and start the bus. Once started it owns the transports and
	// closes them when it stops.
	if opts.Metrics.Enabled {
		opts.Bus.MetricsRegisterer = prometheus.DefaultRegisterer
	}
	b, err := bus.New(ctx, beacon, data, opts.Bus)
	if err != nil {
		return handleErr(fmt.Errorf("failed to create bus: %w", err))
	}
	if err := b.Start(ctx); err != nil {
		return handleErr(fmt.Errorf("failed to start bus: %w", err))
	}
	defer func() {
		log.Info("shutting down bus")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.Close(shutdownCtx); err != nil {
			log.Error("failed to shut down bus", slog.String("error", err.Error()))
		}
	}()
	log.Info("bus is ready, starting services")

	errc := make(chan error, 2)

	// Start the control server
	ctl, err := control.New(ctx, b, opts.Control)
	if err != nil {
		return fmt.Errorf("failed to create control server: %w", err)
	}
	go func() {
		if err := ctl.ListenAndServe(ctx); err != nil {
			errc <- fmt.Errorf("control server failed: %w", err)
		}
	}()
	defer func() {
		log.Info("shutting down control server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ctl.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down control server", slog.String("error", err.Error()))
		}
	}()

	// Start the metrics server
	if opts.Metrics.Enabled {
		metricsSrv := metrics.New(ctx, opts.Metrics)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				errc <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shut down metrics server", slog.String("error", err.Error()))
			}
		}()
	}

	// Wait for a shutdown signal, a terminate command, or a service
	// failure.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutdown signal received")
	case <-b.Done():
		log.Info("bus stopped, shutting down")
	case err := <-errc:
		return err
	}
	return nil
}
