// Package config holds the runtime settings of the dbmap command.
//
// Values come from DBMAP_-prefixed environment variables; command line flags
// override them afterwards. LoadFrom parses an explicit environment so tests
// never depend on the process environment.
//
//	DBMAP_DSN=sqlserver://sa:pw@localhost:1433?database=app
//	DBMAP_LOG_LEVEL=debug
//	DBMAP_METRICS_BACKEND=pushgateway
//	DBMAP_METRICS_PUSH_URL=http://localhost:9091
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every environment variable name.
const Prefix = "DBMAP_"

// Config is the full configuration.
type Config struct {
	// DSN is the connection string handed to the driver.
	DSN string `env:"DSN"`
	// Driver is the database/sql driver name.
	Driver string `env:"DRIVER" envDefault:"sqlserver"`
	// Prepare prepares each new statement text on the server.
	Prepare bool `env:"PREPARE" envDefault:"false"`
	// ServerVersion forces the server major version; 0 asks the server.
	ServerVersion int `env:"SERVER_VERSION" envDefault:"0"`
	// Timeout bounds each command run.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	Log     Log     `envPrefix:"LOG_"`
	Metrics Metrics `envPrefix:"METRICS_"`
	Bench   Bench   `envPrefix:"BENCH_"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `env:"LEVEL"  envDefault:"info"` // debug, info, warn, error
	Format string `env:"FORMAT" envDefault:"text"` // text, json
}

// Metrics selects and configures a metrics backend.
type Metrics struct {
	Backend     string `env:"BACKEND"      envDefault:"none"` // none, pushgateway, datadog
	PushURL     string `env:"PUSH_URL"     envDefault:"http://localhost:9091"`
	Job         string `env:"JOB"          envDefault:"dbmap"`
	DatadogAddr string `env:"DATADOG_ADDR" envDefault:"127.0.0.1:8125"`
	Namespace   string `env:"NAMESPACE"    envDefault:"dbmap."`
}

// Bench configures the bench command.
type Bench struct {
	Rows    int    `env:"ROWS"    envDefault:"1000"`
	Workers int    `env:"WORKERS" envDefault:"4"`
	Table   string `env:"TABLE"   envDefault:"dbmap_bench"`
	Keep    bool   `env:"KEEP"    envDefault:"false"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses environ instead of the process environment. Keys carry
// the DBMAP_ prefix.
func LoadFrom(environ map[string]string) (Config, error) {
	if environ == nil {
		environ = map[string]string{}
	}
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return c, nil
}

// IssueSeverity is how serious a configuration issue is.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one validation finding. Path names the environment variable
// suffix in dotted form, e.g. "metrics.push_url".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate checks c for misconfigurations. needDSN is false for commands
// that never connect.
func (c Config) Validate(needDSN bool) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if needDSN && strings.TrimSpace(c.DSN) == "" {
		add(SeverityError, "dsn", "dsn must not be empty")
	}
	if strings.TrimSpace(c.Driver) == "" {
		add(SeverityError, "driver", "driver must not be empty")
	}
	if c.ServerVersion < 0 {
		add(SeverityError, "server_version", "server_version must not be negative")
	} else if c.ServerVersion > 0 && c.ServerVersion < 9 {
		add(SeverityWarning, "server_version", "server_version=%d has no pagination support", c.ServerVersion)
	}
	if c.Timeout <= 0 {
		add(SeverityError, "timeout", "timeout must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add(SeverityError, "log.level", "unknown level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add(SeverityError, "log.format", "unknown format %q (must be text or json)", c.Log.Format)
	}

	switch c.Metrics.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(c.Metrics.PushURL) == "" {
			add(SeverityError, "metrics.push_url", "pushgateway backend requires a push url")
		}
		if strings.TrimSpace(c.Metrics.Job) == "" {
			add(SeverityError, "metrics.job", "pushgateway backend requires a job name")
		}
	case "datadog":
		if strings.TrimSpace(c.Metrics.DatadogAddr) == "" {
			add(SeverityError, "metrics.datadog_addr", "datadog backend requires an address")
		}
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics disabled", c.Metrics.Backend)
	}

	if c.Bench.Rows <= 0 {
		add(SeverityError, "bench.rows", "rows must be positive")
	}
	if c.Bench.Workers <= 0 {
		add(SeverityError, "bench.workers", "workers must be positive")
	} else if c.Bench.Workers > c.Bench.Rows && c.Bench.Rows > 0 {
		add(SeverityWarning, "bench.workers", "workers=%d exceeds rows=%d; extra workers stay idle", c.Bench.Workers, c.Bench.Rows)
	}
	if strings.TrimSpace(c.Bench.Table) == "" {
		add(SeverityError, "bench.table", "table must not be empty")
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
