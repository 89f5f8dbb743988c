package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"wgmetrics/internal/agent"
	"wgmetrics/internal/config"
	"wgmetrics/internal/execx"
	"wgmetrics/internal/graphite"
	"wgmetrics/internal/logging"
	"wgmetrics/internal/metrics"
	"wgmetrics/internal/telemetry"
	"wgmetrics/internal/wireguard"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `wgmetrics - WireGuard per-peer throughput to Graphite

Usage:
  wgmetrics run --config <path> [--env-file .env]
  wgmetrics sample --config <path> [--wait 5s]
  wgmetrics peers --config <path>
  wgmetrics check --config <path>
  wgmetrics init --config <path> [--host <graphite host>] [--path <prefix>]
  wgmetrics version

Config files ending in .conf or .ini are read in the legacy INI layout,
anything else as YAML. WGMETRICS_* environment variables override the file.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "run":
		handleRun(os.Args[2:])
	case "sample":
		handleSample(os.Args[2:])
	case "peers":
		handlePeers(os.Args[2:])
	case "check":
		handleCheck(os.Args[2:])
	case "init":
		handleInit(os.Args[2:])
	case "version", "--version":
		fmt.Println("wgmetrics", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// commonFlags are shared by every command that reads a config.
type commonFlags struct {
	configPath string
	envFile    string
}

func newFlagSet(name string, c *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.StringVarP(&c.configPath, "config", "c", "", "path to YAML or legacy .conf config")
	fs.StringVar(&c.envFile, "env-file", ".env", "optional dotenv file with WGMETRICS_* overrides")
	return fs
}

func handleRun(args []string) {
	var c commonFlags
	fs := newFlagSet("run", &c)
	_ = fs.Parse(args)

	cfg, log := setup(c)
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	tm := telemetry.New()
	a, err := newAgent(cfg, log, tm)
	if err != nil {
		fatal(err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gCtx)
	})
	if cfg.Telemetry.Listen != "" {
		g.Go(func() error {
			return tm.Serve(gCtx, cfg.Telemetry.Listen, log.Named("telemetry"))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("agent stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("agent stopped")
}

func handleSample(args []string) {
	var c commonFlags
	fs := newFlagSet("sample", &c)
	wait := fs.Duration("wait", 5*time.Second, "time between the two samples")
	_ = fs.Parse(args)

	cfg, log := setup(c)
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newAgent(cfg, log, nil)
	if err != nil {
		fatal(err)
	}
	source, err := newSource(cfg)
	if err != nil {
		fatal(err)
	}
	fatal(sampleTwice(ctx, a, source, *wait, os.Stdout))
}

// sampleTwice loads two samples wait apart and writes the resulting
// points as CSV without sending them.
func sampleTwice(ctx context.Context, a *agent.Agent, source wireguard.Source, wait time.Duration, w io.Writer) error {
	for i := 0; i < 2; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		raw, err := source.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetch sample: %w", err)
		}
		if _, err := a.Load(raw); err != nil {
			return err
		}
	}
	return metrics.WriteCSV(w, a.Pending())
}

func handlePeers(args []string) {
	var c commonFlags
	fs := newFlagSet("peers", &c)
	_ = fs.Parse(args)

	cfg, log := setup(c)
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	source, err := newSource(cfg)
	if err != nil {
		fatal(err)
	}
	fatal(printPeers(ctx, source, cfg.WireGuard.Interface, os.Stdout))
}

func printPeers(ctx context.Context, source wireguard.Source, iface string, w io.Writer) error {
	raw, err := source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch sample: %w", err)
	}
	snap, err := wireguard.Normalize(raw, iface)
	if err != nil {
		return err
	}

	peers := make([]string, 0, len(snap))
	for peer := range snap {
		peers = append(peers, peer)
	}
	sort.Strings(peers)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tRX BYTES\tTX BYTES")
	for _, peer := range peers {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", peer, snap[peer].RxBytes, snap[peer].TxBytes)
	}
	return tw.Flush()
}

func handleCheck(args []string) {
	var c commonFlags
	fs := newFlagSet("check", &c)
	_ = fs.Parse(args)

	loadEnv(c.envFile)
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		fatal(err)
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		fatal(err)
	}
	fmt.Print(string(out))
}

func handleInit(args []string) {
	var c commonFlags
	fs := newFlagSet("init", &c)
	host := fs.String("host", "", "graphite host")
	prefix := fs.String("path", "", "metric path prefix")
	iface := fs.String("iface", "", "wireguard interface")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if c.configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if _, err := os.Stat(c.configPath); err == nil && !*force {
		fatal(fmt.Errorf("%s already exists (use --force)", c.configPath))
	}

	cfg := config.Config{
		Graphite:  config.GraphiteConfig{Host: *host, Path: *prefix},
		WireGuard: config.WireGuardConfig{Interface: *iface},
	}
	fatal(config.Save(c.configPath, cfg))
	fmt.Printf("wrote %s\n", c.configPath)
}

// setup loads .env, the config and the logger, and validates the config.
func setup(c commonFlags) (config.Config, *zap.Logger) {
	loadEnv(c.envFile)
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		fatal(err)
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fatal(err)
	}
	return cfg, log
}

// loadEnv reads a dotenv file if one exists. Variables already set in the
// environment win.
func loadEnv(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal(fmt.Errorf("load %s: %w", path, err))
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		var cfg config.Config
		if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
			return config.Config{}, err
		}
		config.ApplyDefaults(&cfg)
		return cfg, nil
	}
	return config.Load(path)
}

func newSource(cfg config.Config) (wireguard.Source, error) {
	runner := execx.NewOSRunner("")
	switch cfg.WireGuard.Source {
	case config.SourceDump:
		return wireguard.NewDumpSource(runner), nil
	case config.SourceScript:
		return wireguard.NewScriptSource(runner, cfg.WireGuard.Command), nil
	default:
		return nil, fmt.Errorf("unknown wireguard source %q", cfg.WireGuard.Source)
	}
}

func newAgent(cfg config.Config, log *zap.Logger, tm *telemetry.Metrics) (*agent.Agent, error) {
	source, err := newSource(cfg)
	if err != nil {
		return nil, err
	}
	enc, err := graphite.NewEncoder(cfg.Graphite.Encoding)
	if err != nil {
		return nil, err
	}
	sender := graphite.NewSender(graphite.Options{
		Host:         cfg.Graphite.Host,
		Port:         cfg.Graphite.Port,
		Encoder:      enc,
		DialTimeout:  time.Duration(cfg.Graphite.DialTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Graphite.WriteTimeoutSec) * time.Second,
		Logger:       log,
	})
	log.Info("graphite collector",
		zap.String("addr", sender.Addr()),
		zap.String("encoding", cfg.Graphite.Encoding),
	)
	return agent.New(agent.Options{
		Interface: cfg.WireGuard.Interface,
		Prefix:    cfg.Graphite.Path,
		Interval:  time.Duration(cfg.IntervalSec) * time.Second,
		Source:    source,
		Sender:    sender,
		Metrics:   tm,
		Logger:    log,
	}), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
