// fieldterm is a terminal client for remote shell sessions, speaking the
// framed session protocol when the endpoint runs the session multiplexer and
// falling back to a raw byte stream when it does not.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fieldterm/fieldterm/internal/config"
	"github.com/fieldterm/fieldterm/internal/logging"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		connName    string
		attachCmd   string
		uploadGlob  string
		uploadDest  string
		recordPath  string
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&connName, "connection", "", "Named connection from the config")
	flag.StringVar(&attachCmd, "command", "", "Command to run instead of a login shell (e.g. a multiplexer attach)")
	flag.StringVar(&uploadGlob, "upload", "", "Upload files matching this glob instead of opening a terminal")
	flag.StringVar(&uploadDest, "dest", ".", "Remote directory for -upload")
	flag.StringVar(&recordPath, "record", "", "Record the session to this file in asciicast v2 format")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("fieldterm version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	conn, err := pickConnection(cfg, connName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.Info("starting fieldterm",
		slog.String("version", Version),
		slog.String("connection", conn.Name),
		slog.String("transport", conn.Transport),
	)

	// Config hot-reload: subsequently attached sessions pick up new
	// terminal tuning; the running session is not disturbed.
	liveCfg := &atomic.Pointer[config.Config]{}
	liveCfg.Store(cfg)
	if configPath != "" {
		watcher, werr := config.NewWatcher(configPath, func(newCfg *config.Config) {
			liveCfg.Store(newCfg)
			slog.Info("configuration reloaded")
		})
		if werr != nil {
			slog.Warn("config hot-reload disabled", slog.String("error", werr.Error()))
		} else {
			defer watcher.Close()
		}
	}

	app := &app{
		cfg:        liveCfg,
		conn:       conn,
		attachCmd:  attachCmd,
		recordPath: recordPath,
	}

	if uploadGlob != "" {
		if err := app.runUpload(context.Background(), uploadGlob, uploadDest); err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := app.runTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "\r\n%v\r\n", err)
		os.Exit(1)
	}
}

// pickConnection resolves the named connection, defaulting to a sole entry,
// or to a local shell when the config lists nothing at all.
func pickConnection(cfg *config.Config, name string) (*config.ConnectionConfig, error) {
	if name != "" {
		conn, ok := cfg.Connection(name)
		if !ok {
			return nil, fmt.Errorf("no connection named %q in config", name)
		}
		return &conn, nil
	}
	switch len(cfg.Connections) {
	case 0:
		return &config.ConnectionConfig{Name: "local", Transport: "local"}, nil
	case 1:
		return &cfg.Connections[0], nil
	default:
		return nil, fmt.Errorf("config has %d connections, pick one with -connection", len(cfg.Connections))
	}
}
