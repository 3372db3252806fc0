package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"benchqc/internal/domain"
	"benchqc/internal/infra/config"
	"benchqc/internal/infra/logger"
	"benchqc/internal/infra/tracer"
)

// Exit codes: 0 all tests passed, 1 at least one test failed or timed out,
// 2 the run aborted before a verdict (connection failure, cancellation,
// bad configuration).
const (
	exitPass  = 0
	exitFail  = 1
	exitAbort = 2
)

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		os.Exit(runQC())
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runQC())
	case "catalog":
		if err := runCatalog(); err != nil {
			fmt.Fprintf(os.Stderr, "catalog: %v\n", err)
			os.Exit(exitAbort)
		}
	case "history":
		if err := runHistory(); err != nil {
			fmt.Fprintf(os.Stderr, "history: %v\n", err)
			os.Exit(exitAbort)
		}
	case "version":
		fmt.Println("benchqc " + version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'benchqc --help' for usage information.\n", os.Args[1])
		os.Exit(exitAbort)
	}
}

const version = "0.3.0"

func showUsage() {
	fmt.Println(`benchqc - device QC test bench

USAGE:
    benchqc [COMMAND] [FLAGS]

COMMANDS:
    run         Connect to a device and run the QC battery (default)
    catalog     Print the test catalog that would run
    history     List recently persisted QC sessions
    version     Print the benchqc version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./benchqc.yaml)
    --catalog PATH     Test catalog file (default: built-in battery)
    --device SELECTOR  Device name or address to connect to

CONFIGURATION:
    Config file: ./benchqc.yaml
    Environment: BENCHQC_* variables override config

EXIT CODES:
    0   every test passed
    1   at least one test failed or timed out
    2   the run aborted before reaching a verdict

EXAMPLES:
    benchqc run                          # Run against the simulated device
    benchqc run --device DINO-QA-01      # Pick a device by advertised name
    benchqc run --catalog audio.yaml     # Run a custom battery
    benchqc history                      # Show recent verdicts`)
}

// cliFlags holds the optional CLI flags shared by the subcommands.
type cliFlags struct {
	Config  string
	Catalog string
	Device  string
}

// parseFlags extracts --config, --catalog, --device from os.Args.
func parseFlags() cliFlags {
	var flags cliFlags
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			flags.Config = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--config="):
			flags.Config = strings.TrimPrefix(os.Args[i], "--config=")
		case os.Args[i] == "--catalog" && i+1 < len(os.Args):
			flags.Catalog = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--catalog="):
			flags.Catalog = strings.TrimPrefix(os.Args[i], "--catalog=")
		case os.Args[i] == "--device" && i+1 < len(os.Args):
			flags.Device = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--device="):
			flags.Device = strings.TrimPrefix(os.Args[i], "--device=")
		}
	}
	return flags
}

func loadConfig(flags cliFlags) (*config.Config, error) {
	cfgPath := flags.Config
	if cfgPath == "" {
		cfgPath = "benchqc.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flags.Device != "" {
		cfg.Device.Selector = flags.Device
	}
	if flags.Catalog != "" {
		cfg.Catalog.Path = flags.Catalog
	}
	return cfg, nil
}

func loadCatalog(cfg *config.Config) (domain.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return domain.DefaultCatalog(), nil
	}
	return domain.LoadCatalog(cfg.Catalog.Path)
}

// runQC wires the whole bench and reports the verdict through the exit code.
func runQC() int {
	// 1. Config & catalog
	flags := parseFlags()
	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitAbort
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog: %v\n", err)
		return exitAbort
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitAbort
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		log.Error("tracer", "error", err)
		return exitAbort
	}
	defer tracerShutdown(context.Background())

	fin, runErr := executeSession(ctx, cfg, catalog, log)
	printSummary(os.Stdout, fin)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "aborted: interrupted by operator")
		} else {
			fmt.Fprintf(os.Stderr, "aborted: %v\n", runErr)
		}
		return exitAbort
	}
	if fin.Overall == domain.OverallPass {
		return exitPass
	}
	return exitFail
}

// runCatalog prints the battery that a run would execute, in order.
func runCatalog() error {
	flags := parseFlags()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%-3s %-28s %-28s %s\n", "#", "TEST", "COMMAND", "TIMEOUT")
	for i, def := range catalog {
		fmt.Printf("%-3d %-28s %-28s %dms\n", i+1, def.Name, def.CommandID, def.TimeoutMs)
	}
	return nil
}

// runHistory lists recently persisted sessions, newest first.
func runHistory() error {
	flags := parseFlags()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return fmt.Errorf("result store is disabled in config")
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer logCloser()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	summaries, err := st.Recent(context.Background(), 20)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no sessions recorded yet")
		return nil
	}

	fmt.Printf("%-28s %-16s %-8s %-8s %s\n", "SESSION", "DEVICE", "RESULT", "PASSED", "WHEN")
	for _, sum := range summaries {
		fmt.Printf("%-28s %-16s %-8s %d/%-6d %s\n",
			sum.SessionID, sum.DeviceName, strings.ToUpper(string(sum.Overall)),
			sum.TestsPassed, sum.TestsTotal, sum.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
