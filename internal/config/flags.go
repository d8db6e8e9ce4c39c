package config

import (
	"github.com/spf13/pflag"
)

// FlagFile names the flag carrying the YAML config path.
const FlagFile = "config"

type flagBinding struct {
	name  string
	apply func(fs *pflag.FlagSet, cfg *Config) error
}

func stringBinding(name string, target func(*Config) *string) flagBinding {
	return flagBinding{name: name, apply: func(fs *pflag.FlagSet, cfg *Config) error {
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*target(cfg) = v
		return nil
	}}
}

// FlagSet applies command-line overrides registered by BindFlags.
type FlagSet struct {
	fs       *pflag.FlagSet
	bindings []flagBinding
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *FlagSet {
	f := &FlagSet{fs: fs}
	fs.String(FlagFile, "", "path to a YAML config file")
	for _, def := range []struct {
		name, usage string
		target      func(*Config) *string
	}{
		{"storage-driver", "record store: memory, sqlite or postgres", func(c *Config) *string { return &c.Storage.Driver }},
		{"sqlite-path", "sqlite database file", func(c *Config) *string { return &c.Storage.SQLitePath }},
		{"postgres-dsn", "postgres connection string", func(c *Config) *string { return &c.Storage.PostgresDSN }},
		{"blob-driver", "media backend: memory or s3", func(c *Config) *string { return &c.Blob.Driver }},
		{"http-addr", "HTTP listen address", func(c *Config) *string { return &c.HTTP.Addr }},
		{"log-level", "log level: debug, info, warn or error", func(c *Config) *string { return &c.Log.Level }},
		{"log-format", "log format: text or json", func(c *Config) *string { return &c.Log.Format }},
		{"otlp-endpoint", "OTLP/HTTP trace endpoint; empty disables export", func(c *Config) *string { return &c.Telemetry.OTLPEndpoint }},
	} {
		fs.String(def.name, "", def.usage)
		f.bindings = append(f.bindings, stringBinding(def.name, def.target))
	}
	fs.Duration("invitation-ttl", 0, "how long new invitations stay acceptable")
	f.bindings = append(f.bindings, flagBinding{name: "invitation-ttl", apply: func(fs *pflag.FlagSet, cfg *Config) error {
		v, err := fs.GetDuration("invitation-ttl")
		cfg.InvitationTTL = v
		return err
	}})
	fs.Int("retry-attempts", 0, "attempts per operation on write conflicts")
	f.bindings = append(f.bindings, flagBinding{name: "retry-attempts", apply: func(fs *pflag.FlagSet, cfg *Config) error {
		v, err := fs.GetInt("retry-attempts")
		cfg.Retry.MaxAttempts = v
		return err
	}})
	fs.Bool("metrics", false, "expose Prometheus metrics on /metrics")
	f.bindings = append(f.bindings, flagBinding{name: "metrics", apply: func(fs *pflag.FlagSet, cfg *Config) error {
		v, err := fs.GetBool("metrics")
		cfg.Telemetry.Metrics = v
		return err
	}})
	return f
}

// File returns the --config value.
func (f *FlagSet) File() string {
	v, _ := f.fs.GetString(FlagFile)
	return v
}

// Apply copies every changed flag into cfg.
func (f *FlagSet) Apply(cfg *Config) error {
	for _, b := range f.bindings {
		if !f.fs.Changed(b.name) {
			continue
		}
		if err := b.apply(f.fs, cfg); err != nil {
			return err
		}
	}
	return nil
}
