// Command meshnode runs a two-node mesh demo in a single process: a switch
// node toggling a lamp node over a loopback bearer. Both nodes run the full
// pipeline, so every toggle is encrypted, sequenced, deduplicated and
// dispatched exactly as it would be over the air.
//
// Usage:
//
//	meshnode [flags]
//
// Flags:
//
//	-config string        YAML configuration file (built-in defaults if empty)
//	-protocol-log string  Write protocol events to a CBOR log file
//	-verbose              Mirror protocol events to the console
//
// Node state persists across runs in the configured store files; delete
// them to start from freshly provisioned nodes.
//
// Examples:
//
//	# Run with defaults, verbose protocol tracing
//	meshnode -verbose
//
//	# Run with a config file and capture a protocol log for meshlog
//	meshnode -config demo.yaml -protocol-log demo.blog
package main

import (
	"context"
	"flag"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btmesh-protocol/btmesh-go/pkg/bearer"
	"github.com/btmesh-protocol/btmesh-go/pkg/driver"
	"github.com/btmesh-protocol/btmesh-go/pkg/examples"
	"github.com/btmesh-protocol/btmesh-go/pkg/log"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/registry"
	"github.com/btmesh-protocol/btmesh-go/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	protocolLog := flag.String("protocol-log", "", "Write protocol events to a CBOR log file")
	verbose := flag.Bool("verbose", false, "Mirror protocol events to the console")
	flag.Parse()

	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			stdlog.Fatalf("Failed to load config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger, closeLogger, err := buildLogger(*protocolLog, *verbose)
	if err != nil {
		stdlog.Fatalf("Failed to open protocol log: %v", err)
	}
	defer closeLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		stdlog.Fatalf("Error: %v", err)
	}
}

func buildLogger(path string, verbose bool) (log.Logger, func(), error) {
	var loggers []log.Logger
	closer := func() {}
	if path != "" {
		fileLogger, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fileLogger)
		closer = func() { fileLogger.Close() }
	}
	if verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		loggers = append(loggers, log.NewSlogAdapter(slog.New(handler)))
	}
	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return log.NewMultiLogger(loggers...), closer, nil
	}
}

func run(ctx context.Context, cfg Config, logger log.Logger) error {
	appKey, err := cfg.appKeyHandle()
	if err != nil {
		return err
	}

	switchEnd, lampEnd := bearer.NewLoopbackPair(64)
	defer switchEnd.Close()

	// Lamp node: on/off server on the primary element.
	lampServer := examples.NewOnOffServer(func(on bool) {
		stdlog.Printf("Lamp is now %s", onOff(on))
	})
	lampRegistry := registry.New(registry.Identity{CompanyID: 0x05F1, ProductID: 0x0002, VersionID: 0x0100})
	lampElement, err := lampRegistry.AddElement(0)
	if err != nil {
		return err
	}
	if err := lampElement.AddModel(lampServer); err != nil {
		return err
	}

	// Switch node: on/off client on the primary element.
	switchClient := examples.NewOnOffClient(appKey, func(src mesh.UnicastAddress, on bool) {
		stdlog.Printf("Status from %#04x: %s", uint16(src), onOff(on))
	})
	switchRegistry := registry.New(registry.Identity{CompanyID: 0x05F1, ProductID: 0x0001, VersionID: 0x0100})
	switchElement, err := switchRegistry.AddElement(0)
	if err != nil {
		return err
	}
	if err := switchElement.AddModel(switchClient); err != nil {
		return err
	}

	lamp, err := startNode(ctx, cfg, cfg.Lamp, lampEnd, lampRegistry, logger)
	if err != nil {
		return err
	}
	defer lamp.Stop()
	switchNode, err := startNode(ctx, cfg, cfg.Switch, switchEnd, switchRegistry, logger)
	if err != nil {
		return err
	}
	defer switchNode.Stop()

	interval := time.Duration(cfg.ToggleInterval)
	stdlog.Printf("Switch node %#04x and lamp node %#04x are up", cfg.Switch.Address, cfg.Lamp.Address)
	stdlog.Printf("Toggling every %s; press Ctrl-C to stop", interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	on := true
	lampAddress := mesh.Address(cfg.Lamp.Address)
	for {
		select {
		case <-sigCh:
			stdlog.Println("Shutting down")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stdlog.Printf("Switch: set lamp %s", onOff(on))
			if err := switchClient.Set(ctx, switchNode, lampAddress, on); err != nil {
				stdlog.Printf("Set failed: %v", err)
				continue
			}
			on = !on
		}
	}
}

// startNode brings up one driver over a file store, provisioning it on
// first run and resuming persisted state afterwards.
func startNode(ctx context.Context, cfg Config, node NodeConfig, end bearer.Bearer, reg *registry.Registry, logger log.Logger) (*driver.Driver, error) {
	d := driver.New(driver.Config{
		Bearer:        end,
		Store:         storage.NewFileStore(node.Store),
		Registry:      reg,
		DefaultConfig: storage.NewUnprovisionedConfiguration(),
		Relay:         node.Relay,
		Logger:        logger,
	})
	if err := d.Start(ctx); err != nil {
		return nil, err
	}
	if !d.IsProvisioned() {
		provisioned, err := cfg.provisionedConfig(node)
		if err != nil {
			d.Stop()
			return nil, err
		}
		if err := d.Provision(ctx, provisioned); err != nil {
			d.Stop()
			return nil, err
		}
		stdlog.Printf("Provisioned node %#04x (state in %s)", node.Address, node.Store)
	} else {
		stdlog.Printf("Resumed node %#04x from %s", node.Address, node.Store)
	}
	return d, nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
