package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/beacon-scanner/internal/ble"
	"github.com/chaz8081/beacon-scanner/internal/config"
	"github.com/chaz8081/beacon-scanner/internal/eventlog"
	"github.com/chaz8081/beacon-scanner/internal/scan"
)

// readyTimeout bounds the startup readiness check; a bind that never
// completes would otherwise leave the CLI waiting forever.
const readyTimeout = 15 * time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/beacon-scanner/config.yaml)")
	dumpPath := flag.String("dump", "", "print the records of a CBOR event log and exit")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	if *dumpPath != "" {
		if err := dumpLog(*dumpPath); err != nil {
			log.Fatalf("dump: %v", err)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	var events *eventlog.FileLogger
	if cfg.EventLog != "" {
		events, err = eventlog.NewFileLogger(cfg.EventLog)
		if err != nil {
			log.Fatalf("Failed to open event log: %v", err)
		}
		defer events.Close()
		log.Printf("Recording events to %s (session %s)", cfg.EventLog, events.Session())
	}

	engine := ble.NewEngine(ble.NewTinyGoScanner(), ble.EngineOptions{
		RangingPeriod: cfg.Scan.RangingPeriod,
		ExitTimeout:   cfg.Scan.ExitTimeout,
		RetryMax:      cfg.Scan.RetryMax,
		Probe:         func() (bool, error) { return ble.AdapterPowered(cfg.Adapter) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher := scan.NewDispatcher()
	go dispatcher.Run(ctx)

	coord := scan.NewCoordinator(engine, dispatcher)

	log.Println("Connecting to Bluetooth adapter...")
	if !waitReady(coord) {
		coord.Close()
		log.Fatalf("Bluetooth adapter %s is unavailable.\n\nEnsure Bluetooth is powered on and this process may use it.", cfg.Adapter)
	}
	log.Println("Bluetooth adapter ready")

	ranged := scan.NewStream[scan.RangingEvent](cfg.EventBuffer)
	monitored := scan.NewStream[scan.MonitoringEvent](cfg.EventBuffer)
	rangedCh, monitoredCh := subscribe(coord, cfg, ranged, monitored)
	if rangedCh == nil && monitoredCh == nil {
		coord.Close()
		log.Fatalf("No regions configured. Add ranging or monitoring regions to %s", config.DefaultConfigPath())
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Scanning. Ctrl+C to quit.")

	// Main event loop
	for {
		select {
		case ev, ok := <-rangedCh:
			if !ok {
				log.Printf("Ranging stream ended: %v", ranged.Err())
				rangedCh = nil
				continue
			}
			printRanging(ev)
			if events != nil {
				if err := events.LogRanging(ev); err != nil {
					log.Printf("ERROR: event log: %v", err)
				}
			}

		case ev, ok := <-monitoredCh:
			if !ok {
				log.Printf("Monitoring stream ended: %v", monitored.Err())
				monitoredCh = nil
				continue
			}
			printMonitoring(ev)
			if events != nil {
				if err := events.LogMonitoring(ev); err != nil {
					log.Printf("ERROR: event log: %v", err)
				}
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			coord.CancelRanging()
			coord.CancelMonitoring()
			if err := coord.Close(); err != nil {
				log.Printf("ERROR: shutdown: %v", err)
			}
			ranged.Close()
			monitored.Close()
			if n := ranged.Dropped() + monitored.Dropped(); n > 0 {
				log.Printf("%d events dropped by slow consumer", n)
			}
			log.Println("Goodbye!")
			return
		}
	}
}

// waitReady runs the one-shot readiness check.
func waitReady(coord *scan.Coordinator) bool {
	ready := make(chan bool, 1)
	coord.CheckReady(func(ok bool) { ready <- ok })
	select {
	case ok := <-ready:
		return ok
	case <-time.After(readyTimeout):
		log.Printf("Timed out after %s waiting for the adapter", readyTimeout)
		return false
	}
}

// subscribe starts the feeds that have regions configured and returns their
// event channels; a feed without regions gets a nil channel.
func subscribe(coord *scan.Coordinator, cfg *config.Config, ranged *scan.Stream[scan.RangingEvent], monitored *scan.Stream[scan.MonitoringEvent]) (<-chan scan.RangingEvent, <-chan scan.MonitoringEvent) {
	var rangedCh <-chan scan.RangingEvent
	var monitoredCh <-chan scan.MonitoringEvent

	if len(cfg.Ranging) > 0 {
		if err := coord.SubscribeRanging(config.RegionArgs(cfg.Ranging), ranged); err != nil {
			log.Printf("ERROR: ranging subscribe: %v", err)
		} else {
			rangedCh = ranged.Events()
			log.Printf("Ranging %d region(s)", len(coord.Regions(scan.KindRanging)))
		}
	}
	if len(cfg.Monitoring) > 0 {
		if err := coord.SubscribeMonitoring(config.RegionArgs(cfg.Monitoring), monitored); err != nil {
			log.Printf("ERROR: monitoring subscribe: %v", err)
		} else {
			monitoredCh = monitored.Events()
			log.Printf("Monitoring %d region(s)", len(coord.Regions(scan.KindMonitoring)))
		}
	}
	return rangedCh, monitoredCh
}

func printRanging(ev scan.RangingEvent) {
	if len(ev.Beacons) == 0 {
		slog.Debug("[RANGING] no beacons", "region", ev.Region.Identifier())
		return
	}
	for _, b := range ev.Beacons {
		log.Printf("[%s] %s rssi=%d distance=%.2fm", ev.Region.Identifier(), b.Key(), b.RSSI, b.Accuracy)
	}
}

func printMonitoring(ev scan.MonitoringEvent) {
	switch ev.Kind {
	case scan.EventStateDetermined:
		log.Printf("[%s] state %s", ev.Region.Identifier(), ev.State)
	default:
		log.Printf("[%s] %s", ev.Region.Identifier(), ev.Kind)
	}
}

// dumpLog prints every record of a CBOR event log, one per line.
func dumpLog(path string) error {
	recs, err := eventlog.ReadFile(path)
	if err != nil {
		return err
	}
	for _, r := range recs {
		var detail string
		switch {
		case r.Feed == eventlog.FeedRanging:
			detail = fmt.Sprintf("%d beacon(s)", len(r.Beacons))
		case r.State != "":
			detail = r.Event + " " + r.State
		default:
			detail = r.Event
		}
		fmt.Printf("%s  %s  %-10s  %-12v  %s\n",
			r.Timestamp.Format(time.RFC3339Nano), shortSession(r.Session), r.Feed, r.Region["identifier"], detail)
	}
	return nil
}

func shortSession(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	eventLog := cfg.EventLog
	if eventLog == "" {
		eventLog = "(disabled)"
	}
	fmt.Println("=== beacon-scanner ===")
	fmt.Printf("  Adapter:     %s\n", cfg.Adapter)
	fmt.Printf("  Period:      %s (exit after %s)\n", cfg.Scan.RangingPeriod, cfg.Scan.ExitTimeout)
	fmt.Printf("  Ranging:     %s\n", regionNames(cfg.Ranging))
	fmt.Printf("  Monitoring:  %s\n", regionNames(cfg.Monitoring))
	fmt.Printf("  Event log:   %s\n", eventLog)
	fmt.Printf("  Log:         %s\n", cfg.LogLevel)
	fmt.Println("======================")
}

func regionNames(regions []config.RegionConfig) string {
	if len(regions) == 0 {
		return "(none)"
	}
	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Identifier
	}
	return strings.Join(names, ", ")
}
