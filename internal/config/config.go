// Package config centralizes importer configuration. Values are layered, from
// lowest to highest precedence:
//
//  1. built-in defaults
//  2. an optional YAML file (--config)
//  3. CRM_* environment variables (CRM_DB_HOST -> db_host)
//  4. command-line flags that were explicitly set (--db-host -> db_host)
//
// Keys are flat snake_case names that mirror the flag names.
package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"crmloader/internal/importer"
	"crmloader/internal/store"
)

// EnvPrefix prefixes every environment variable the importer reads.
const EnvPrefix = "CRM_"

// Config holds all process configuration. It is a plain value and safe to
// copy after Load returns.
type Config struct {
	// Database connection. DBDSN wins over the discrete parts.
	DBDriver   string `koanf:"db_driver"`
	DBDSN      string `koanf:"db_dsn"`
	DBHost     string `koanf:"db_host"`
	DBPort     int    `koanf:"db_port"`
	DBUser     string `koanf:"db_user"`
	DBPassword string `koanf:"db_password"`
	DBName     string `koanf:"db_name"`

	// Import tunables.
	BatchSize  int      `koanf:"batch_size"`
	Delimiter  string   `koanf:"delimiter"`
	Decimal    string   `koanf:"decimal"`
	Encodings  []string `koanf:"encodings"`
	Mode       string   `koanf:"mode"`
	SchemaFile string   `koanf:"schema_file"`

	// Output locations.
	LogDir     string `koanf:"log_dir"`
	SkippedDir string `koanf:"skipped_dir"`

	// Metrics: "" or "none", "prompush", "datadog".
	MetricsBackend string `koanf:"metrics_backend"`
	PushgatewayURL string `koanf:"pushgateway_url"`
	DatadogAddr    string `koanf:"datadog_addr"`

	// VerifySample is how many source rows the verify command checks.
	VerifySample int  `koanf:"verify_sample"`
	Verbose      bool `koanf:"verbose"`
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"db_driver":       "mysql",
		"db_host":         "localhost",
		"db_port":         0,
		"db_user":         "root",
		"db_name":         "crm",
		"batch_size":      importer.DefaultBatchSize,
		"delimiter":       ";",
		"decimal":         ".",
		"mode":            string(importer.InsertOnly),
		"log_dir":         "logs",
		"skipped_dir":     "",
		"metrics_backend": "none",
		"verify_sample":   5,
		"verbose":         false,
	}
}

// RegisterFlags defines the persistent flags every command shares.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("config", "", "YAML configuration file")
	fs.String("db-driver", d["db_driver"].(string), "database backend: mysql, postgres, sqlite, sqlserver, oracle")
	fs.String("db-dsn", "", "full driver DSN (overrides the discrete db-* flags)")
	fs.String("db-host", d["db_host"].(string), "database host")
	fs.Int("db-port", 0, "database port (0 = backend default)")
	fs.String("db-user", d["db_user"].(string), "database user")
	fs.String("db-password", "", "database password (prefer CRM_DB_PASSWORD)")
	fs.String("db-name", d["db_name"].(string), "database name (file path for sqlite, service for oracle)")
	fs.Int("batch-size", d["batch_size"].(int), "statements per commit")
	fs.String("delimiter", d["delimiter"].(string), `CSV field delimiter ("\t" or "tab" for tabs)`)
	fs.String("decimal", d["decimal"].(string), `decimal separator of numeric cells ("." or ",")`)
	fs.StringSlice("encodings", nil, "candidate encodings in order (default utf-8,latin-1,iso-8859-1,cp1252)")
	fs.String("mode", d["mode"].(string), "insert_only, update_only or upsert")
	fs.String("schema-file", "", "YAML schema descriptor overriding the built-in one")
	fs.String("log-dir", d["log_dir"].(string), "directory for run log files")
	fs.String("skipped-dir", "", "directory for skipped-row CSV files (empty disables)")
	fs.String("metrics-backend", d["metrics_backend"].(string), "none, prompush or datadog")
	fs.String("pushgateway-url", "", "Prometheus Pushgateway URL")
	fs.String("datadog-addr", "", "DogStatsD address")
	fs.Int("verify-sample", d["verify_sample"].(int), "rows checked by verify")
	fs.BoolP("verbose", "v", false, "debug logging")
}

// Load builds a Config from defaults, cfgFile (optional), the environment and
// the explicitly set flags in fs (optional).
func Load(cfgFile string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings that would fail later in a less obvious way.
func (c *Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if _, err := parseDelimiter(c.Delimiter); err != nil {
		errs = append(errs, err)
	}
	if c.Decimal != "." && c.Decimal != "," {
		errs = append(errs, fmt.Errorf(`decimal must be "." or ",", got %q`, c.Decimal))
	}
	if _, err := importer.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := store.Lookup(c.DBDriver); err != nil {
		errs = append(errs, err)
	}
	switch c.MetricsBackend {
	case "", "none":
	case "prompush":
		if c.PushgatewayURL == "" {
			errs = append(errs, errors.New("metrics_backend prompush needs pushgateway_url"))
		}
	case "datadog":
		if c.DatadogAddr == "" {
			errs = append(errs, errors.New("metrics_backend datadog needs datadog_addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metrics_backend %q", c.MetricsBackend))
	}
	return errors.Join(errs...)
}

// DelimiterRune returns the CSV delimiter. Call Validate first.
func (c *Config) DelimiterRune() rune {
	r, _ := parseDelimiter(c.Delimiter)
	return r
}

// DecimalRune returns the decimal separator.
func (c *Config) DecimalRune() rune {
	if c.Decimal == "," {
		return ','
	}
	return '.'
}

// ImportMode returns the parsed mode. Call Validate first.
func (c *Config) ImportMode() importer.Mode {
	m, _ := importer.ParseMode(c.Mode)
	return m
}

// DSN returns DBDSN when set, otherwise assembles one for DBDriver.
func (c *Config) DSN() (string, error) {
	if c.DBDSN != "" {
		return c.DBDSN, nil
	}
	return store.BuildDSN(c.DBDriver, store.DSNParts{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
	})
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case `\t`, "tab", "\t":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}
