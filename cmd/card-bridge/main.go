package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SimplyPrint/card-bridge/internal/api"
	"github.com/SimplyPrint/card-bridge/internal/config"
	"github.com/SimplyPrint/card-bridge/internal/core"
	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/SimplyPrint/card-bridge/internal/service"
	"github.com/SimplyPrint/card-bridge/internal/settings"
	"github.com/SimplyPrint/card-bridge/internal/tray"
	"github.com/SimplyPrint/card-bridge/internal/welcome"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Card Bridge - local SLE4442 card writer service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  card-bridge [flags]\n")
		fmt.Fprintf(os.Stderr, "  card-bridge <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  CARD_BRIDGE_PORT         Port to listen on (default: %d)\n", config.DefaultPort)
		fmt.Fprintf(os.Stderr, "  CARD_BRIDGE_HOST         Host to bind to (default: %s)\n", config.DefaultHost)
		fmt.Fprintf(os.Stderr, "  CARD_BRIDGE_SENTRY       1/0 forces crash reporting on or off\n")
		fmt.Fprintf(os.Stderr, "  CARD_BRIDGE_SENTRY_DSN   Crash reporting DSN\n")
	}

	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "install":
			if err := service.New().Install(); err != nil {
				log.Fatalf("Failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := service.New().Uninstall(); err != nil {
				log.Fatalf("Failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	run(config.Load(), *noTrayFlag)
}

func printVersion() {
	fmt.Printf("card-bridge %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func run(cfg *config.Config, headless bool) {
	prefs, err := settings.Load()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
	}

	level, ok := logging.ParseLevel(prefs.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	logging.Init(1000, level)

	logging.InitSentry(logging.SentryOptions{
		Version: api.Version,
		Enabled: prefs.CrashReporting,
	})
	defer logging.FlushSentry(2 * time.Second)
	defer logging.RecoverAndLog("main", true)

	logging.Info(logging.CatSystem, "Card Bridge starting", map[string]any{
		"version":        api.Version,
		"crashReporting": logging.SentryEnabled(),
	})

	bridge := core.NewBridge(nil)
	srv := api.NewServer(bridge)
	mux := srv.NewMux()
	mux.HandleFunc("/v1/ws", srv.WebSocketHandler())

	api.InitUpdateChecker()

	addr := cfg.Address()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := func() {
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logging.Warn(logging.CatSystem, "Server shutdown incomplete", map[string]any{
				"error": err.Error(),
			})
		}
		logging.FlushSentry(2 * time.Second)
		os.Exit(0)
	}

	startServer := func() {
		defer logging.RecoverAndLog("HTTP server", true)

		log.Printf("card-bridge %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
		})

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(logging.CatSystem, "Server stopped", map[string]any{
				"error": err.Error(),
			})
			logging.FlushSentry(2 * time.Second)
			log.Fatalf("server error: %v", err)
		}
	}

	useTray := !headless && tray.IsSupported()

	if useTray {
		log.Println("Starting with system tray...")

		go welcome.ShowOnFirstRun(fmt.Sprintf("http://%s/", addr))

		trayApp := tray.New(addr, bridge, shutdown)
		api.SetShutdownHandler(trayApp.Quit)

		// systray must own the main thread on macOS
		trayApp.RunWithServer(startServer)
		return
	}

	if headless {
		log.Println("Running in headless mode (no system tray)")
	} else {
		log.Println("System tray not supported on this platform, running headless")
	}

	api.SetShutdownHandler(shutdown)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		shutdown()
	}()

	startServer()
}
