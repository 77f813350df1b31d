package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("padlobby v%s\n", version)
	fmt.Println("Controller lobby sync daemon for the device-management service")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  padlobby [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that mirrors the device service's controller lobby over a")
	fmt.Println("  persistent websocket (connected/ready sets, battery, bluetooth")
	fmt.Println("  scans), re-publishes it to local consumers, plays ready cues, and")
	fmt.Println("  dispatches user intents (reassign, apply-config) to the service's")
	fmt.Println("  control plane.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; flags override it)")
	fmt.Println()
	fmt.Println("  -service-ws-url string")
	fmt.Printf("        Device service websocket URL (default %q)\n", defaultWsURL)
	fmt.Println()
	fmt.Println("  -service-api-url string")
	fmt.Printf("        Device service API base URL (default %q)\n", defaultAPIBaseURL)
	fmt.Println()
	fmt.Println("  -reconnect-delay-ms int")
	fmt.Printf("        Fixed reconnect delay in ms (default %d)\n", defaultReconnectDelayMS)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -state-ws-addr string")
	fmt.Printf("        Local state websocket listen address (default %q)\n", defaultStateWSAddr)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults (service on localhost:8000)")
	fmt.Println("  padlobby")
	fmt.Println()
	fmt.Println("  # Remote device service")
	fmt.Println("  padlobby -service-ws-url ws://192.168.1.50:8000/ws -service-api-url http://192.168.1.50:8000")
	fmt.Println()
	fmt.Println("  # Full configuration from file")
	fmt.Println("  padlobby -config /etc/padlobby/config.yaml")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - State is never persisted: a fresh snapshot is pushed by the")
	fmt.Println("    service on every (re)connect and supersedes everything prior.")
	fmt.Println("  - Reconnects repeat at a fixed delay until shutdown.")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath       = flag.String("config", "", "Path to YAML config file")
		serviceWsURL     = flag.String("service-ws-url", "", "Device service websocket URL")
		serviceAPIURL    = flag.String("service-api-url", "", "Device service API base URL")
		reconnectDelayMs = flag.Int("reconnect-delay-ms", 0, "Fixed reconnect delay in milliseconds")
		ipcSocketPath    = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		stateWsAddr      = flag.String("state-ws-addr", "", "Local state websocket listen address")
		logLevelStr      = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion      = flag.Bool("version", false, "Print version and exit")
		showHelp         = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Flag overrides
	if *serviceWsURL != "" {
		cfg.Service.WsURL = *serviceWsURL
	}
	if *serviceAPIURL != "" {
		cfg.Service.APIBaseURL = *serviceAPIURL
	}
	if *reconnectDelayMs > 0 {
		cfg.Service.ReconnectDelayMS = *reconnectDelayMs
	}
	if *ipcSocketPath != "" {
		cfg.IPC.SocketPath = *ipcSocketPath
	}
	if *stateWsAddr != "" {
		cfg.StateWS.Addr = *stateWsAddr
	}
	if *logLevelStr != "" {
		cfg.Logging.Level = *logLevelStr
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	svc, err := NewDeviceServiceClient(cfg.Service.APIBaseURL, logger, time.Duration(cfg.Service.TimeoutMS)*time.Millisecond)
	if err != nil {
		logger.Error("invalid device service configuration", "error", err)
		os.Exit(1)
	}

	var player CuePlayer = NopCuePlayer{}
	if cfg.Sound.Enabled {
		player = NewExecCuePlayer(cfg.Sound.Player, cfg.Sound.AssetDir, logger)
	}
	relauncher := NewExecRelauncher(cfg.Launcher.Command, logger)

	// Central event channel: feed events, IPC intents, and hub snapshot
	// requests all funnel into the single daemon loop.
	events := make(chan Event, defaultEventQueueSize)

	hub := NewHub(logger, HubConfig{
		SendBuf:      cfg.StateWS.SendBuf,
		BroadcastBuf: cfg.StateWS.BroadcastBuf,
	}, events)

	feed, err := NewLobbyFeed(cfg.Service.WsURL, time.Duration(cfg.Service.ReconnectDelayMS)*time.Millisecond, events, logger)
	if err != nil {
		logger.Error("invalid feed configuration", "error", err)
		os.Exit(1)
	}
	feed.OnStateChange = func(s ConnState) {
		logger.Debug("lobby feed state", "state", s.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting padlobby",
		"version", version,
		"service_ws", cfg.Service.WsURL,
		"service_api", cfg.Service.APIBaseURL,
		"ipc", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Addr,
		"reconnect_delay_ms", cfg.Service.ReconnectDelayMS,
		"sound", cfg.Sound.Enabled)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})
	g.Go(func() error {
		return runStateWSServer(gctx, cfg.StateWS.Addr, hub, logger)
	})
	g.Go(func() error {
		runDaemon(gctx, events, svc, player, relauncher, hub, &LobbyState{}, logger)
		return nil
	})

	feed.Connect()

	err = g.Wait()

	// Teardown: cancel the reconnect timer and close the active connection
	// before silencing any playing cue.
	if cerr := feed.Close(); cerr != nil {
		logger.Debug("feed close", "error", cerr)
	}
	player.Stop()

	if err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
