// Package config implements the node's configuration surface: pflag/cobra
// flags bound through viper, with an optional TOML file overlay. Options
// are bound straight to viper rather than through a separate descriptor
// layer, since there's no ConfigOption-style reflection package in scope
// here.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
)

// Config is the full set of knobs a historycore node is started with.
type Config struct {
	ConfigPath string `toml:"-"`

	Endpoint      string `toml:"endpoint"`
	AdminEndpoint string `toml:"admin-endpoint"`

	LogLevel  logrus.Level `toml:"-"`
	LogFormat string       `toml:"log-format"`

	DBPath             string   `toml:"db-path"`
	ServerTag          string   `toml:"server-tag"`
	Accelerate         bool     `toml:"accelerate-time-for-testing"`
	HistoryArchiveURL  string   `toml:"history-archive-url"`
	PublishArchiveURLs []string `toml:"publish-archive-urls"`

	TmpRoot        string        `toml:"publish-tmp-root"`
	PublishRetries uint64        `toml:"publish-retries"`
	PublishPeriod  time.Duration `toml:"publish-period"`

	NetworkPassphrase string `toml:"network-passphrase"`
}

// Frequency returns the checkpoint frequency implied by Accelerate.
func (c Config) Frequency() checkpoint.Frequency {
	return checkpoint.FrequencyFromConfig(c.Accelerate)
}

// Flags registers every option as a pflag on cmd and binds it through
// viper, so upper-cased, underscored env vars and a TOML config file (loaded
// separately via Load) can all supply the same key.
func Flags(cmd *cobra.Command, v *viper.Viper) *Config {
	cfg := &Config{}
	fs := cmd.PersistentFlags()

	bind := func(name string, set func(*pflag.FlagSet)) {
		set(fs)
		_ = v.BindPFlag(name, fs.Lookup(name))
	}

	bind("config-path", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.ConfigPath, "config-path", "", "path to a TOML configuration file")
	})
	bind("endpoint", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.Endpoint, "endpoint", "localhost:8000", "endpoint to serve the status/RPC surface on")
	})
	bind("admin-endpoint", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.AdminEndpoint, "admin-endpoint", "", "admin endpoint for /metrics and pprof; empty disables it")
	})
	bind("log-level", func(fs *pflag.FlagSet) {
		fs.String("log-level", "info", "minimum log severity (debug, info, warn, error)")
	})
	bind("log-format", func(fs *pflag.FlagSet) {
		fs.String("log-format", "text", "log output format (text or json)")
	})
	bind("db-path", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.DBPath, "db-path", "historycore.sqlite", "path to the publish queue's sqlite database")
	})
	bind("server-tag", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.ServerTag, "server-tag", "historycore", "server string written into published HAS files")
	})
	bind("accelerate-time-for-testing", func(fs *pflag.FlagSet) {
		fs.BoolVar(&cfg.Accelerate, "accelerate-time-for-testing", false, "use the accelerated checkpoint frequency (testing only)")
	})
	bind("history-archive-url", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.HistoryArchiveURL, "history-archive-url", "", "archive used for catchup and the publish writability gate")
	})
	bind("publish-archive-urls", func(fs *pflag.FlagSet) {
		fs.StringSliceVar(&cfg.PublishArchiveURLs, "publish-archive-urls", nil, "comma-separated archives to publish checkpoints to")
	})
	bind("publish-tmp-root", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.TmpRoot, "publish-tmp-root", "", "scratch directory the publish pipeline stages files in before upload")
	})
	bind("publish-retries", func(fs *pflag.FlagSet) {
		fs.Uint64Var(&cfg.PublishRetries, "publish-retries", 5, "max retries for a transient upload failure within one publish attempt")
	})
	bind("publish-period", func(fs *pflag.FlagSet) {
		fs.DurationVar(&cfg.PublishPeriod, "publish-period", time.Second, "how often the publish pipeline is ticked")
	})
	bind("network-passphrase", func(fs *pflag.FlagSet) {
		fs.StringVar(&cfg.NetworkPassphrase, "network-passphrase", "", "network passphrase identifying which ledger chain this node tracks")
	})

	// Every key can also come from its upper-cased, underscored env var
	// (e.g. DB_PATH for db-path).
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cfg
}

// Load overlays a TOML config file (if ConfigPath/--config-path was set)
// onto viper's flag/env-bound values, then resolves everything -- file,
// env, flag, in ascending precedence -- back into cfg.
func Load(v *viper.Viper, cfg *Config) error {
	if path := v.GetString("config-path"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.Endpoint = v.GetString("endpoint")
	cfg.AdminEndpoint = v.GetString("admin-endpoint")
	cfg.LogFormat = v.GetString("log-format")
	cfg.DBPath = v.GetString("db-path")
	cfg.ServerTag = v.GetString("server-tag")
	cfg.Accelerate = v.GetBool("accelerate-time-for-testing")
	cfg.HistoryArchiveURL = v.GetString("history-archive-url")
	cfg.PublishArchiveURLs = v.GetStringSlice("publish-archive-urls")
	cfg.TmpRoot = v.GetString("publish-tmp-root")
	cfg.PublishRetries = v.GetUint64("publish-retries")
	cfg.PublishPeriod = v.GetDuration("publish-period")
	cfg.NetworkPassphrase = v.GetString("network-passphrase")

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("parsing log-level: %w", err)
	}
	cfg.LogLevel = level

	return cfg.Validate()
}

// Default returns the Config a freshly constructed cobra command would
// carry before any flags, env vars, or file overlay are applied -- used as
// the starting point for WriteDefault.
func Default() Config {
	return Config{
		Endpoint:       "localhost:8000",
		LogFormat:      "text",
		DBPath:         "historycore.sqlite",
		ServerTag:      "historycore",
		PublishRetries: 5,
		PublishPeriod:  time.Second,
	}
}

// WriteDefault renders cfg as TOML and writes it to path, so an operator
// can run "historycore config init" and get a starting file with every
// field already laid out for editing.
func WriteDefault(path string, cfg Config) error {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Validate checks the handful of options that have no sane default.
func (c Config) Validate() error {
	if c.HistoryArchiveURL == "" {
		return fmt.Errorf("history-archive-url is required")
	}
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("network-passphrase is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}
