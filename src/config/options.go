package config

import (
	"fairq/src/logging"

	"github.com/spf13/pflag"
)

// Options contains the command-line flags shared by the server and the
// client. Flags that were set explicitly take precedence over the YAML file.
type Options struct {
	ConfigPath   string // YAML file, defaults are used when empty.
	Listen       string // Server address, or address the client dials.
	MetricsAddr  string // Address of the Prometheus endpoint.
	FairnessCSV  string // Path of the fairness CSV.
	LogVerbosity int    // Number for the log level verbosity.

	// internal
	fs *pflag.FlagSet
}

// NewOptions returns a new Options struct initialized with default values.
func NewOptions() *Options {
	return &Options{
		Listen:       DefaultListen,
		LogVerbosity: logging.DEFAULT,
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath,
		"Path of the YAML configuration file.")
	fs.StringVar(&opts.Listen, "addr", opts.Listen,
		"Address the server listens on and the client dials.")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr,
		"Address of the Prometheus metrics endpoint. Empty disables it.")
	fs.StringVar(&opts.FairnessCSV, "fairness-csv", opts.FairnessCSV,
		"Path of the fairness CSV written by the server. Empty disables it.")
	fs.IntVarP(&opts.LogVerbosity, "v", "v", opts.LogVerbosity,
		"Number for the log level verbosity.")
}

// Complete loads the configuration file and applies the flags that were set
// on the command line.
func (opts *Options) Complete() (*Config, error) {
	cfg, err := Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.changed("addr") {
		cfg.Listen = opts.Listen
	}
	if opts.changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.changed("fairness-csv") {
		cfg.FairnessCSV = opts.FairnessCSV
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (opts *Options) changed(name string) bool {
	if opts.fs == nil {
		return false
	}
	f := opts.fs.Lookup(name)
	return f != nil && f.Changed
}
