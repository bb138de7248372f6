// Package main implements pixie16-daqd, the Pixie-16 crate's data
// acquisition daemon.
//
// pixie16-daqd owns the crate for the lifetime of the process: it boots
// the simulated or physical module set, runs the operator command loop on
// its controlling terminal, drives the acquisition run loop, serves a
// health/metrics endpoint for unattended monitoring, and listens on a
// Unix domain socket so pixie16ctl can issue commands from outside the
// daemon's own terminal. All four activities are supervised so a panic
// or unexpected error in one doesn't take the daemon down with it.
//
// Usage:
//
//	pixie16-daqd [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: /etc/pixie16-daq/config.yaml)
//	--lock-dir=PATH   Directory for lock files (default: /var/run/pixie16-daq)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help            Show this help message
//
// Example:
//
//	# Run with default config
//	pixie16-daqd
//
//	# Run with custom config
//	pixie16-daqd --config=/path/to/config.yaml
//
// The daemon automatically:
//   - Loads configuration from YAML with PIXIE16_* environment overrides
//   - Boots the crate (the simulated backend, until a vendor SDK binding exists)
//   - Restarts the command loop, run loop, and health server on failure
//   - Handles SIGINT/SIGTERM for graceful shutdown
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkuNucExp/pixie16-daq/internal/broadcast"
	"github.com/pkuNucExp/pixie16-daq/internal/config"
	"github.com/pkuNucExp/pixie16-daq/internal/hardware"
	"github.com/pkuNucExp/pixie16-daq/internal/health"
	"github.com/pkuNucExp/pixie16-daq/internal/lock"
	"github.com/pkuNucExp/pixie16-daq/internal/runctl"
	"github.com/pkuNucExp/pixie16-daq/internal/slotmap"
	"github.com/pkuNucExp/pixie16-daq/internal/supervisor"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// daemonFlags holds the parsed command-line flags, kept as a plain struct
// so runDaemon can be exercised without touching the package-level flag.FlagSet.
type daemonFlags struct {
	ConfigPath string
	LockDir    string
	LogLevel   string
}

func main() {
	flags := daemonFlags{}
	flag.StringVar(&flags.ConfigPath, "config", config.ConfigFilePath, "Path to configuration file")
	flag.StringVar(&flags.LockDir, "lock-dir", "/var/run/pixie16-daq", "Directory for lock files")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	os.Exit(runDaemon(flags))
}

// runDaemon does the daemon's actual work and returns a process exit
// code, so main stays a thin flag-parsing shim and tests can drive the
// startup/shutdown sequence without os.Exit tearing down the test binary.
func runDaemon(flags daemonFlags) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseSlogLevel(flags.LogLevel),
	}))
	logger.Info("starting pixie16-daqd", "version", Version, "commit", Commit, "built", BuildTime)

	// #nosec G301 - Lock directory needs group read for service monitoring
	if err := os.MkdirAll(flags.LockDir, 0750); err != nil {
		logger.Error("failed to create lock directory", "dir", flags.LockDir, "error", err)
		return 1
	}

	fl, err := lock.NewFileLock(flags.LockDir + "/pixie16-daqd.lock")
	if err != nil {
		logger.Error("failed to construct lock", "error", err)
		return 1
	}
	if err := fl.Acquire(lock.DefaultAcquireTimeout); err != nil {
		logger.Error("another pixie16-daqd instance holds the lock", "error", err)
		return 1
	}
	defer func() { _ = fl.Close() }()

	_, cfg, err := loadConfigurationKoanf(flags.ConfigPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", flags.ConfigPath, "error", err)
		return 1
	}
	logger.Info("loaded configuration", "path", flags.ConfigPath, "modules", cfg.Modules, "channels", cfg.Channels)

	slots, err := buildSlotMap(cfg.Slots)
	if err != nil {
		logger.Error("invalid slot map", "error", err)
		return 1
	}
	if err := slots.Consistent(cfg.Modules); err != nil {
		logger.Error("slot map inconsistent with module count", "error", err)
		return 1
	}

	hw := hardware.NewSim(cfg.Modules, cfg.Channels)

	var bcast *broadcast.Client
	if cfg.Broadcast.Port > 0 {
		addr := cfg.Broadcast.Host + ":" + strconv.Itoa(cfg.Broadcast.Port)
		bcast, err = broadcast.NewClient(addr)
		if err != nil {
			logger.Error("failed to construct broadcast client", "addr", addr, "error", err)
			return 1
		}
		bcast.SetShmMode(cfg.Broadcast.Shm)
	}

	rc, err := runctl.New(runctl.Config{
		Modules:    cfg.Modules,
		Channels:   cfg.Channels,
		FIFOMax:    cfg.FIFOMax,
		FIFOMin:    cfg.FIFOMin,
		PollTries:  cfg.PollTries,
		Slots:      slots,
		OutputDir:  cfg.Output.Dir,
		FilePrefix: cfg.Output.Prefix,
		Logger:     logger,
	}, hw, bcast)
	if err != nil {
		logger.Error("failed to construct run controller", "error", err)
		return 1
	}
	defer func() { _ = rc.Close() }()

	sup := supervisor.New(supervisor.Config{
		ShutdownTimeout: 30 * time.Second,
		Logger:          supervisorLogWriter{logger},
	})

	if err := sup.Add("command-loop", &commandLoopService{rc: rc}); err != nil {
		logger.Error("failed to register command loop", "error", err)
		return 1
	}
	if err := sup.Add("run-loop", &runLoopService{rc: rc}); err != nil {
		logger.Error("failed to register run loop", "error", err)
		return 1
	}

	if cfg.Health.Enabled {
		handler := health.NewHandler(runctl.NewHealthAdapter(rc)).WithSystemInfo(runctl.NewHealthAdapter(rc))
		if err := sup.Add("health", &healthService{addr: cfg.Health.ListenAddr, handler: handler}); err != nil {
			logger.Error("failed to register health endpoint", "error", err)
			return 1
		}
		logger.Info("health endpoint enabled", "addr", cfg.Health.ListenAddr)
	}

	controlSockPath := flags.LockDir + "/control.sock"
	_ = os.Remove(controlSockPath)
	if err := sup.Add("control-socket", &controlSocketService{rc: rc, path: controlSockPath}); err != nil {
		logger.Error("failed to register control socket", "error", err)
		return 1
	}
	logger.Info("control socket enabled", "path", controlSockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	logger.Info("crate online", "services", sup.ServiceCount())
	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("supervisor error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

// commandLoopService adapts RunController.CommandLoop to supervisor.Service.
type commandLoopService struct {
	rc *runctl.RunController
}

func (s *commandLoopService) Serve(ctx context.Context) error {
	return s.rc.CommandLoop(ctx, os.Stdin)
}

// runLoopService adapts RunController.RunLoop, which has no error return,
// to supervisor.Service.
type runLoopService struct {
	rc *runctl.RunController
}

func (s *runLoopService) Serve(ctx context.Context) error {
	s.rc.RunLoop(ctx)
	return ctx.Err()
}

// controlSocketService adapts RunController.ServeControl to
// supervisor.Service, so pixie16ctl can reach a running daemon over a
// Unix domain socket without sharing its controlling terminal.
type controlSocketService struct {
	rc   *runctl.RunController
	path string
}

func (s *controlSocketService) Serve(ctx context.Context) error {
	return s.rc.ServeControl(ctx, s.path)
}

// healthService adapts health.ListenAndServe to supervisor.Service.
type healthService struct {
	addr    string
	handler *health.Handler
}

func (s *healthService) Serve(ctx context.Context) error {
	return health.ListenAndServe(ctx, s.addr, s.handler)
}

// supervisorLogWriter adapts an *slog.Logger to the io.Writer supervisor
// wants for its own event log, so suture restart/failure events end up in
// the same structured stream as everything else the daemon logs.
type supervisorLogWriter struct {
	logger *slog.Logger
}

func (w supervisorLogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// buildSlotMap converts the YAML-friendly module-index -> slot map into a
// *slotmap.SlotMap by round-tripping through slotmap.Parse's "index:slot"
// syntax, so the map keeps its single validation path regardless of
// whether it arrived from a config file or a command-line spec string.
func buildSlotMap(slots map[int]int) (*slotmap.SlotMap, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("configuration has no slot map entries")
	}
	parts := make([]string, 0, len(slots))
	for idx, slot := range slots {
		parts = append(parts, fmt.Sprintf("%d:%d", idx, slot))
	}
	return slotmap.Parse(strings.Join(parts, ","))
}

// loadConfigurationKoanf loads configuration via config.KoanfConfig, which
// layers PIXIE16_* environment overrides on top of the YAML file, falling
// back to config.DefaultConfig when the file doesn't exist. It never
// returns a nil *config.Config alongside a nil error: the daemon
// dereferences the returned config unconditionally.
func loadConfigurationKoanf(path string) (*config.KoanfConfig, *config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, config.DefaultConfig(), nil
	}

	kc, err := config.NewKoanfConfig(config.WithYAMLFile(path))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := kc.Load()
	if err != nil {
		return nil, nil, err
	}
	return kc, cfg, nil
}

// parseSlogLevel maps a --log-level flag value to an slog.Level, defaulting
// to info for an empty or unrecognized value rather than failing startup
// over a typo'd flag.
func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage() {
	fmt.Println("pixie16-daqd - Pixie-16 data acquisition daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: pixie16-daqd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon owns the crate for its process lifetime: command loop,")
	fmt.Println("acquisition run loop, and health endpoint run as supervised services.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
