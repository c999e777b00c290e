package main

import (
	"context"
	"fairq/src/client"
	"fairq/src/config"
	"fairq/src/logging"
	"fairq/src/server"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
)

const usage = "usage: fairq server|client [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(ctx, os.Args[2:])
	case "client":
		err = runClient(ctx, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(name string, args []string, addFlags func(*pflag.FlagSet)) (*config.Config, logr.Logger, error) {
	opts := config.NewOptions()
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	opts.AddFlags(fs)
	if addFlags != nil {
		addFlags(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, logr.Discard(), err
	}

	log, err := logging.NewLogger(opts.LogVerbosity)
	if err != nil {
		return nil, logr.Discard(), err
	}

	cfg, err := opts.Complete()
	if err != nil {
		return nil, log, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, log, nil
}

// go run main.go server --config server.yaml
func runServer(ctx context.Context, args []string) error {
	cfg, log, err := setup("server", args, nil)
	if err != nil {
		return err
	}

	s, err := server.NewServer(cfg, log)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// go run main.go client --requests 1000 --classes high,low
func runClient(ctx context.Context, args []string) error {
	clientOpts := client.DefaultClientOptions()
	var classes []string

	cfg, log, err := setup("client", args, func(fs *pflag.FlagSet) {
		fs.StringSliceVar(&classes, "classes", nil,
			"Classes to request. Defaults to every configured class.")
		fs.IntVar(&clientOpts.Requests, "requests", clientOpts.Requests,
			"Requests sent per class.")
		fs.Uint32Var(&clientOpts.Size, "size", clientOpts.Size,
			"Bytes requested per request.")
		fs.Uint32Var(&clientOpts.Weight, "weight", clientOpts.Weight,
			"Weight of each request.")
		fs.IntVar(&clientOpts.Concurrency, "concurrency", clientOpts.Concurrency,
			"Requests in flight at most.")
		fs.Float64Var(&clientOpts.Rate, "rate", clientOpts.Rate,
			"Requests per second over all classes. 0 sends as fast as possible.")
		fs.DurationVar(&clientOpts.Timeout, "timeout", clientOpts.Timeout,
			"Timeout of each request.")
		fs.StringVar(&clientOpts.StatisticsPath, "stats-csv", clientOpts.StatisticsPath,
			"Path of the per-request CSV.")
	})
	if err != nil {
		return err
	}

	clientOpts.Addr = cfg.Listen
	if len(classes) == 0 {
		for _, class := range cfg.Classes {
			classes = append(classes, class.Name)
		}
	}
	clientOpts.Classes = classes
	if err := clientOpts.Validate(); err != nil {
		return err
	}

	c := client.NewClient(clientOpts, log)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	summary, err := c.Run(ctx)
	summary.Print(os.Stdout)
	return err
}
