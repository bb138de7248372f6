// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkuNucExp/pixie16-daq/internal/config"
	"github.com/pkuNucExp/pixie16-daq/internal/diagnostics"
	"github.com/pkuNucExp/pixie16-daq/internal/menu"
	"github.com/pkuNucExp/pixie16-daq/internal/updater"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	defaultSocketPath = "/var/run/pixie16-daq/control.sock"
	exitSuccess       = 0
	exitError         = 1
)

// defaultConfigPath and defaultSetupLockDir are vars, not consts, so tests
// can point runValidate/runSetup at a temp directory instead of the real
// system paths.
var (
	defaultConfigPath   = config.ConfigFilePath
	defaultSetupLockDir = "/var/run/pixie16-daq"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "status":
		return runRemoteCommand("status")
	case "run":
		return runRemoteCommand("run")
	case "timedrun":
		return runRemoteCommand(append([]string{"timedrun"}, commandArgs...)...)
	case "stop":
		return runRemoteCommand("stop")
	case "mca":
		return runRemoteCommand(append([]string{"mca"}, commandArgs...)...)
	case "spill":
		return runRemoteCommand("spill")
	case "reboot":
		return runRemoteCommand("reboot")
	case "pread":
		return runRemoteCommand(append([]string{"pread"}, commandArgs...)...)
	case "pwrite":
		return runRemoteCommand(append([]string{"pwrite"}, commandArgs...)...)
	case "dump":
		return runRemoteCommand(append([]string{"dump"}, commandArgs...)...)
	case "adjust_offsets":
		return runRemoteCommand(append([]string{"adjust_offsets"}, commandArgs...)...)
	case "validate":
		return runValidate(commandArgs)
	case "setup":
		return runSetup(commandArgs)
	case "test":
		return runTest(commandArgs)
	case "diagnose":
		return runDiagnose(commandArgs)
	case "check-system":
		return runCheckSystem(commandArgs)
	case "update":
		return runUpdate(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'pixie16ctl help' for usage)", command)
	}
}

// runHelp displays usage information.
func runHelp() error {
	fmt.Printf(`pixie16-daq control CLI v%s

Usage: pixie16ctl <command> [arguments]

Run control (requires a running pixie16-daqd, talks to it over its
control socket at %s):
  status                             Print current crate status
  run                                Start a recorded acquisition run
  timedrun <seconds>                 Start a run that stops after N seconds
  stop                                Stop the current run
  mca [seconds] [basename]           Start an MCA-only accumulation
  spill                               Force an immediate spill
  reboot                              Reboot (reinitialize) all modules
  pread <mod> <chan> <param>          Read a channel parameter
  pwrite <mod> <chan> <param> <val>   Write a channel parameter
  dump [path]                         Dump the current parameter set
  adjust_offsets <mod[:mod]>          Auto-adjust channel DC offsets

Setup and diagnostics (local, no running daemon required):
  validate                            Validate the configuration file
  setup                                Interactive first-time setup
  test                                 Run a quick environment self-test
  diagnose                             Run the full diagnostic report
  check-system                        Quick system readiness summary
  update [--check|--force]            Check for or install pixie16ctl updates
  menu                                 Launch the interactive operator menu

  help                                 Show this help message
  version                              Show version information

Examples:
  pixie16ctl status
  pixie16ctl timedrun 300
  pixie16ctl pread 0 3 ENERGY_FLATTOP
  pixie16ctl diagnose
`, Version, defaultSocketPath)
	return nil
}

// runVersion displays version information.
func runVersion() error {
	fmt.Printf("pixie16ctl version %s\n", Version)
	fmt.Printf("  commit:  %s\n", GitCommit)
	fmt.Printf("  built:   %s\n", BuildDate)
	return nil
}

// runRemoteCommand sends one command line to a running pixie16-daqd over
// its control socket and prints the reply. Every run-control subcommand
// goes through here rather than the library's own internal dispatch:
// pixie16ctl and pixie16-daqd are separate processes, and the socket
// this dials is the only channel between them (see
// internal/runctl.ServeControl).
func runRemoteCommand(parts ...string) error {
	reply, err := sendControlCommand(controlSocketPath(), strings.Join(parts, " "))
	if err != nil {
		return err
	}
	fmt.Print(reply)
	if len(reply) == 0 || reply[len(reply)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func controlSocketPath() string {
	if p := os.Getenv("PIXIE16_CONTROL_SOCKET"); p != "" {
		return p
	}
	return defaultSocketPath
}

// sendControlCommand dials the control socket, writes line, and reads
// back everything the daemon sends before closing the connection
// (internal/runctl.ServeControl handles exactly one command per
// connection). An "ERR " prefixed reply becomes a Go error.
func sendControlCommand(sockPath, line string) (string, error) {
	conn, err := net.DialTimeout("unix", sockPath, 3*time.Second)
	if err != nil {
		return "", fmt.Errorf("pixie16ctl: connect to %s: %w (is pixie16-daqd running?)", sockPath, err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", fmt.Errorf("pixie16ctl: write command: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var sb strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	out := sb.String()
	if strings.HasPrefix(out, "ERR ") {
		return "", fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(out, "ERR ")))
	}
	return out, nil
}

// runValidate loads and validates the daemon's configuration file
// without needing a running daemon.
func runValidate(args []string) error {
	path := defaultConfigPath
	if len(args) > 0 {
		path = args[0]
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("pixie16ctl: %s: %w", path, err)
	}
	fmt.Printf("%s is valid (modules=%d channels=%d)\n", path, cfg.Modules, cfg.Channels)
	return nil
}

// runSetup writes a default configuration file and lock directory if
// they don't already exist, the minimum needed before pixie16-daqd can
// start for the first time.
func runSetup(args []string) error {
	auto := false
	for _, a := range args {
		if a == "--auto" {
			auto = true
		}
	}

	path := defaultConfigPath
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("%s already exists, leaving it in place\n", path)
	} else {
		if !auto && !promptYesNo(fmt.Sprintf("Write a default configuration to %s?", path)) {
			fmt.Println("Setup aborted.")
			return nil
		}
		// #nosec G301 - Config directory needs group read for service monitoring
		if err := os.MkdirAll(pathDir(path), 0750); err != nil {
			return fmt.Errorf("pixie16ctl: create config directory: %w", err)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return fmt.Errorf("pixie16ctl: write default config: %w", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
	}

	lockDir := defaultSetupLockDir
	// #nosec G301 - Lock directory needs group read for service monitoring
	if err := os.MkdirAll(lockDir, 0750); err != nil {
		return fmt.Errorf("pixie16ctl: create lock directory: %w", err)
	}
	fmt.Printf("Lock directory ready at %s\n", lockDir)
	fmt.Println("Setup complete. Start the crate with: pixie16-daqd")
	return nil
}

func pathDir(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "."
	}
	return path[:i]
}

func promptYesNo(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

// runTest runs a short subset of diagnostic checks suitable for a
// post-install smoke test.
func runTest(args []string) error {
	opts := diagnostics.DefaultOptions()
	opts.Mode = diagnostics.ModeQuick
	return runDiagnosticReport(opts)
}

// runDiagnose runs the full diagnostic report.
func runDiagnose(args []string) error {
	opts := diagnostics.DefaultOptions()
	opts.Mode = diagnostics.ModeFull
	return runDiagnosticReport(opts)
}

// runCheckSystem is a terser version of diagnose, for a quick go/no-go
// readiness summary before starting the daemon.
func runCheckSystem(args []string) error {
	opts := diagnostics.DefaultOptions()
	opts.Mode = diagnostics.ModeQuick
	return runDiagnosticReport(opts)
}

func runDiagnosticReport(opts diagnostics.Options) error {
	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("pixie16ctl: diagnostics: %w", err)
	}

	for _, r := range report.Checks {
		fmt.Printf("[%-8s] %-28s %s\n", r.Status, r.Name, r.Message)
	}
	fmt.Printf("\n%d ok, %d warning, %d critical, %d error\n",
		report.Summary.OK, report.Summary.Warning, report.Summary.Critical, report.Summary.Error)
	if !report.Healthy {
		return fmt.Errorf("pixie16ctl: %d diagnostic check(s) need attention", report.Summary.Critical+report.Summary.Error)
	}
	return nil
}

// runUpdate checks GitHub for a newer pixie16ctl release (or installs
// it with --force), using the repository's own release feed.
func runUpdate(args []string) error {
	checkOnly := true
	for _, a := range args {
		if a == "--force" {
			checkOnly = false
		}
	}

	u := updater.New(
		updater.WithOwner("pkuNucExp"),
		updater.WithRepo("pixie16-daq"),
		updater.WithCurrentVersion(Version),
	)

	info, err := u.CheckForUpdates(context.Background())
	if err != nil {
		return fmt.Errorf("pixie16ctl: check for updates: %w", err)
	}
	if !info.UpdateAvailable {
		fmt.Printf("pixie16ctl %s is up to date\n", Version)
		return nil
	}

	fmt.Printf("Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
	if checkOnly {
		fmt.Println("Run 'pixie16ctl update --force' to install it, or download manually:")
		fmt.Printf("  %s\n", info.DownloadURL)
		return nil
	}
	return fmt.Errorf("pixie16ctl: --force install is not implemented; download %s manually", info.DownloadURL)
}

// runMenu launches the interactive operator TUI.
func runMenu(args []string) error {
	return menu.CreateMainMenu().Display()
}

