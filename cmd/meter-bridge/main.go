// main.go — Entry point for the meter-bridge binary.
// Relays MCP traffic between an IDE client and a local execution host, metering every
// tools/call against the remote metering service.
//
// Usage: meter-bridge [--mode stdio|http] [--api-key KEY] [flags]
//
// Exit codes:
//
//	0 = clean shutdown
//	1 = runtime failure (e.g. port in use)
//	2 = configuration error (missing credential, unknown mode, bad flag)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/brennhill/meter-bridge/internal/config"
	"github.com/brennhill/meter-bridge/internal/dispatch"
	"github.com/brennhill/meter-bridge/internal/host"
	"github.com/brennhill/meter-bridge/internal/logging"
	"github.com/brennhill/meter-bridge/internal/metering"
	"github.com/brennhill/meter-bridge/internal/transport"
	"github.com/brennhill/meter-bridge/internal/txn"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

const usageText = `meter-bridge — metered MCP relay between an IDE client and a local execution host

Usage:
  meter-bridge [flags]

Flags:
  --mode <stdio|http>     Transport mode (env MCP_BRIDGE_MODE, default stdio)
  --api-key <key>         Metering credential (env MCP_API_KEY, required)
  --api-url <url>         Metering service base URL (env MCP_API_URL)
  --host-url <url>        Execution host URL (env MCP_HOST_URL)
  --port <port>           HTTP listen port (env MCP_HTTP_PORT, default 8788)
  --timeout-ms <ms>       Outbound call timeout (env MCP_TIMEOUT_MS, default 30000)
  --log-level <level>     trace|debug|info|warn|error (env MCP_LOG_LEVEL)
  --version               Show version
  --help                  Show this help
`

// streams groups the process I/O so tests can substitute pipes.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	stop()
	os.Exit(code)
}

// run is the main entry point, separated for testability. Returns the exit code.
func run(ctx context.Context, args []string, std streams) int {
	flags, showVersion, err := parseFlags(args, std.stderr)
	if errors.Is(err, flag.ErrHelp) {
		_, _ = fmt.Fprint(std.stderr, usageText)
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(std.stderr, "meter-bridge: %v\n", err)
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintf(std.stdout, "meter-bridge %s\n", version)
		return 0
	}

	wd, _ := os.Getwd()
	cfg, err := config.Load(wd, flags)
	if err != nil {
		_, _ = fmt.Fprintf(std.stderr, "meter-bridge: %v\n", err)
		return 2
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		DebugFile: cfg.DebugFile,
		Sink:      std.stderr,
	})
	if err != nil {
		_, _ = fmt.Fprintf(std.stderr, "meter-bridge: %v\n", err)
		return 2
	}
	defer func() { _ = closeLog() }()

	logger.Info().
		Str("version", version).
		Str("mode", cfg.Mode).
		Str("api_url", cfg.APIURL).
		Str("host_url", cfg.HostURL).
		Dur("timeout", cfg.Timeout()).
		Msg("meter-bridge starting")

	d := wire(cfg, logger)
	if err := serve(ctx, cfg, d, std, logger); err != nil {
		logger.Error().Err(err).Msg("meter-bridge stopped with error")
		return 1
	}
	logger.Info().Msg("meter-bridge stopped")
	return 0
}

// wire builds the dispatch core from configuration.
func wire(cfg config.Config, logger zerolog.Logger) *dispatch.Dispatcher {
	meter := metering.NewClient(cfg.APIURL, cfg.APIKey, cfg.Timeout(), logging.Component(logger, "metering"))
	exec := host.NewClient(cfg.HostURL, cfg.Timeout(), logging.Component(logger, "host"))
	coord := txn.NewCoordinator(meter, exec, cfg.Timeout(), logging.Component(logger, "txn"))
	return dispatch.New(meter, exec, coord, logging.Component(logger, "dispatch"))
}

func serve(ctx context.Context, cfg config.Config, d transport.Dispatcher, std streams, logger zerolog.Logger) error {
	switch cfg.Mode {
	case config.ModeHTTP:
		srv := transport.NewHTTPServer(d, logging.Component(logger, "http"))
		return srv.ListenAndServe(ctx, ":"+strconv.Itoa(cfg.HTTPPort), cfg.ShutdownTimeout())
	default:
		srv := transport.NewStdioServer(std.stdin, std.stdout, d, logging.Component(logger, "stdio"))
		return srv.Serve(ctx)
	}
}

// parseFlags maps explicitly set flags onto config overrides; unset flags stay nil.
func parseFlags(args []string, stderr io.Writer) (*config.FlagOverrides, bool, error) {
	fs := flag.NewFlagSet("meter-bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {}

	mode := fs.String("mode", "", "transport mode")
	apiKey := fs.String("api-key", "", "metering credential")
	apiURL := fs.String("api-url", "", "metering service base URL")
	hostURL := fs.String("host-url", "", "execution host URL")
	port := fs.Int("port", 0, "HTTP listen port")
	timeoutMs := fs.Int("timeout-ms", 0, "outbound call timeout in ms")
	logLevel := fs.String("log-level", "", "log level")
	showVersion := fs.Bool("version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if fs.NArg() > 0 {
		return nil, false, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	overrides := &config.FlagOverrides{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			overrides.Mode = mode
		case "api-key":
			overrides.APIKey = apiKey
		case "api-url":
			overrides.APIURL = apiURL
		case "host-url":
			overrides.HostURL = hostURL
		case "port":
			overrides.HTTPPort = port
		case "timeout-ms":
			overrides.TimeoutMs = timeoutMs
		case "log-level":
			overrides.LogLevel = logLevel
		}
	})
	return overrides, *showVersion, nil
}
