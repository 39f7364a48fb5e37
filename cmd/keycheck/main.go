// keycheck compares a verifier's copy of the auth service public key with the key the
// service currently signs with.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/keysync"
	"github.com/spec-kit/auth-service/internal/observability"
)

// errDrift is returned when the local key no longer matches the service.
var errDrift = errors.New("public key drift detected")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL  string
		keyFile  string
		logLevel string
		timeout  time.Duration
		watch    time.Duration
	)

	flagSet := pflag.NewFlagSet("keycheck", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", "http://127.0.0.1:8080", "base URL of the auth service")
	flagSet.StringVar(&keyFile, "key-file", "", "base64 public key to check (default: fetch from the service)")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	flagSet.DurationVar(&watch, "watch", 0, "re-check on this interval and re-fetch on drift (0 checks once)")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	logger, err := observability.NewLogger(config.LoggerConfig{Level: logLevel})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := keysync.NewClient(keysync.Config{BaseURL: baseURL, Timeout: timeout}, logger)
	if keyFile != "" {
		raw, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}
		if err := client.Install(string(raw)); err != nil {
			return err
		}
	} else if err := client.Seed(ctx); err != nil {
		return err
	}

	if watch > 0 {
		logger.Info("watching public key", zap.String("url", baseURL), zap.Duration("interval", watch))
		client.Run(ctx, watch)
		return nil
	}

	match, err := client.Check(ctx)
	if err != nil {
		return err
	}
	if !match {
		fmt.Println("drift")
		return errDrift
	}
	fmt.Println("match")
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `keycheck: verify that a public key matches the auth service signing key.

Usage:
  keycheck [flags]

Examples:
  # Check a verifier's persisted key
  keycheck --url http://auth:8080 --key-file /etc/verifier/public.key

  # Keep a cached copy in sync, re-fetching on drift
  keycheck --url http://auth:8080 --watch 30s

Flags:
`)
	flagSet.PrintDefaults()
}
