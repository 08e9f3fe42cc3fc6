// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// beacon-watch tails a registry's change stream from the command
// line. It connects to a node, mirrors the dataset through a
// self-healing channel, and prints one line per change. Useful for
// debugging what a registry cluster actually believes.
//
// Examples:
//
//	beacon-watch --address 10.0.0.5:7280
//	beacon-watch --address 10.0.0.5:7280 --application billing
//	beacon-watch --address 10.0.0.5:7280 --vip billing.internal
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/beacon-foundation/beacon/connection"
	"github.com/beacon-foundation/beacon/interest"
	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/registry"
	"github.com/beacon-foundation/beacon/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		address     string
		application string
		instanceID  string
		vip         string
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("beacon-watch", pflag.ContinueOnError)
	flagSet.StringVar(&address, "address", "", "registry node address (host:port) (required)")
	flagSet.StringVar(&application, "application", "", "watch one application instead of everything")
	flagSet.StringVar(&instanceID, "instance", "", "watch one instance ID")
	flagSet.StringVar(&vip, "vip", "", "watch one VIP address")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if address == "" {
		return fmt.Errorf("--address is required")
	}

	selected := registry.FullInterest()
	count := 0
	if application != "" {
		selected = registry.ApplicationInterest(application)
		count++
	}
	if instanceID != "" {
		selected = registry.InstanceInterest(instanceID)
		count++
	}
	if vip != "" {
		selected = registry.VIPInterest(vip)
		count++
	}
	if count > 1 {
		return fmt.Errorf("--application, --instance, and --vip are mutually exclusive")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mirror := registry.NewStore(logger)
	factory := transport.NewChannelFactory(address, mirror, logger)
	client, err := interest.NewClient(mirror, factory, connection.RetryConfig{}, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	subscription, err := client.ForInterest(selected)
	if err != nil {
		return err
	}
	defer subscription.Cancel()

	fmt.Printf("watching %s at %s\n", selected, address)

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification, ok := <-subscription.C():
			if !ok {
				return nil
			}
			printNotification(notification)
		}
	}
}

func printNotification(notification registry.ChangeNotification) {
	if notification.IsSentinel() {
		fmt.Println("--- initial dataset complete ---")
		return
	}

	info := notification.Instance
	fmt.Printf("%-8s %-24s %-16s %-22s %s\n",
		notification.Kind,
		info.ID,
		info.Application,
		info.Address,
		info.Status,
	)
}
