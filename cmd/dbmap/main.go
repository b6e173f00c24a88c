// Command dbmap exercises the data-access layer against SQL Server.
//
//	dbmap probe --dsn sqlserver://...        server version and paging strategy
//	dbmap sql --skip 10 --take 5             generated SQL, no server needed
//	dbmap bench --rows 5000 --workers 8      concurrent inserts, paging check
//
// Every flag has a DBMAP_ environment variable; flags win.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"dbmap/internal/config"
	"dbmap/internal/db"
	"dbmap/internal/logging"
	"dbmap/internal/metrics"
	"dbmap/internal/metrics/datadog"
	"dbmap/internal/metrics/prompush"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dbmap: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags and environment are
// merged.
type app struct {
	out, errOut io.Writer
	cfg         config.Config
	log         *slog.Logger
}

func newApp(out, errOut io.Writer) *cli.Command {
	a := &app{out: out, errOut: errOut}
	return &cli.Command{
		Name:  "dbmap",
		Usage: "struct-mapped data access for SQL Server",
		Commands: []*cli.Command{
			a.probeCommand(),
			a.sqlCommand(),
			a.benchCommand(),
		},
	}
}

// commonFlags are accepted by every subcommand.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "dsn", Usage: "connection string (env DBMAP_DSN)"},
		&cli.StringFlag{Name: "driver", Usage: "database/sql driver name (env DBMAP_DRIVER)"},
		&cli.BoolFlag{Name: "prepare", Usage: "prepare statements on the server (env DBMAP_PREPARE)"},
		&cli.IntFlag{Name: "server-version", Usage: "force the server major version (env DBMAP_SERVER_VERSION)"},
		&cli.DurationFlag{Name: "timeout", Usage: "overall command timeout (env DBMAP_TIMEOUT)"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (env DBMAP_LOG_LEVEL)"},
		&cli.StringFlag{Name: "log-format", Usage: "text or json (env DBMAP_LOG_FORMAT)"},
		&cli.StringFlag{Name: "metrics-backend", Usage: "none, pushgateway or datadog (env DBMAP_METRICS_BACKEND)"},
		&cli.StringFlag{Name: "pushgateway-url", Usage: "Pushgateway base URL (env DBMAP_METRICS_PUSH_URL)"},
		&cli.StringFlag{Name: "datadog-addr", Usage: "DogStatsD address (env DBMAP_METRICS_DATADOG_ADDR)"},
	}
}

// setup loads the environment, applies flag overrides, validates and
// builds the logger. needDSN is false for commands that never connect.
func (a *app) setup(cmd *cli.Command, needDSN bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	issues := cfg.Validate(needDSN)
	for _, iss := range issues {
		fmt.Fprintf(a.errOut, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}

	log, err := logging.New(cfg.Log, a.errOut)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func applyFlags(cmd *cli.Command, cfg *config.Config) {
	str := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	str("dsn", &cfg.DSN)
	str("driver", &cfg.Driver)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("metrics-backend", &cfg.Metrics.Backend)
	str("pushgateway-url", &cfg.Metrics.PushURL)
	str("datadog-addr", &cfg.Metrics.DatadogAddr)
	if cmd.IsSet("prepare") {
		cfg.Prepare = cmd.Bool("prepare")
	}
	if cmd.IsSet("server-version") {
		cfg.ServerVersion = int(cmd.Int("server-version"))
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
}

// options builds executor options from the merged configuration.
func (a *app) options() db.Options {
	return db.Options{
		Driver:  a.cfg.Driver,
		Prepare: a.cfg.Prepare,
		Logger:  a.log,
		Version: a.cfg.ServerVersion,
	}
}

// setupMetrics installs the configured backend and returns the flush to
// run before exit. Backend failures fall back to the nop backend.
func setupMetrics(cfg config.Metrics, log *slog.Logger) func() {
	var b metrics.Backend
	var err error
	switch cfg.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.Job, cfg.PushURL)
		if err == nil {
			log.Info("metrics: enabled", "backend", cfg.Backend, "url", cfg.PushURL, "job", cfg.Job)
		}
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			Namespace:  cfg.Namespace,
			GlobalTags: []string{"service:dbmap"},
		})
		if err == nil {
			log.Info("metrics: enabled", "backend", cfg.Backend, "addr", cfg.DatadogAddr)
		}
	case "", "none":
		log.Debug("metrics: disabled")
		return func() {}
	default:
		log.Warn("metrics: unknown backend; metrics disabled", "backend", cfg.Backend)
		return func() {}
	}
	if err != nil {
		log.Warn("metrics: backend init failed; using nop", "backend", cfg.Backend, "err", err)
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush error", "err", err)
		}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
