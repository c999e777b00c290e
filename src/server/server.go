package server

import (
	"context"
	"errors"
	"fairq/src/config"
	"fairq/src/logging"
	"fairq/src/server/fairqueue"
	"fairq/src/server/metrics"
	"fairq/src/server/reactor"
	"fairq/src/server/stream_handler"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const (
	shutdownTimeout = 5 * time.Second

	// Written next to the fairness CSV.
	workConservingCSV = "work_conserving.csv"
)

// QUICConfig returns the transport parameters shared by the server and the
// client.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        5 * time.Minute,
		HandshakeIdleTimeout:  10 * time.Second,
		MaxIncomingStreams:    20000, // Set the maximum number of incoming streams
		MaxIncomingUniStreams: -1,    // Unidirectional streams are not used
	}
}

type Server struct {
	cfg   *config.Config
	log   logr.Logger
	clock clock.WithTicker

	fq      *fairqueue.FairQueue
	reactor *reactor.Reactor
	handler *stream_handler.StreamHandler

	registry *prometheus.Registry
	fairness *metrics.Fairness // nil when disabled
	wc       *metrics.WorkConserving
	closers  []io.Closer

	listener *quic.Listener
}

// NewServer builds the fair queue, registers one priority class per
// configured class and prepares the metrics. cfg must be valid.
func NewServer(cfg *config.Config, log logr.Logger) (s *Server, err error) {
	srv := &Server{
		cfg:      cfg,
		log:      log,
		clock:    clock.RealClock{},
		registry: prometheus.NewRegistry(),
	}
	// Error returns reset s, so the writers are closed through srv.
	defer func() {
		if err != nil {
			srv.closeWriters()
		}
	}()
	s = srv

	names := metrics.NewNames()
	collector := metrics.NewCollector(names)
	if err = collector.Register(s.registry); err != nil {
		return nil, err
	}

	var wcOut io.Writer = io.Discard
	if cfg.FairnessCSV != "" {
		var fairnessOut, wcFile io.WriteCloser
		if fairnessOut, err = metrics.CreateCSV(cfg.FairnessCSV); err != nil {
			return nil, err
		}
		s.fairness = metrics.NewFairness(fairnessOut, names, cfg.Classes, s.clock)
		s.closers = append(s.closers, s.fairness)

		if wcFile, err = metrics.CreateCSV(filepath.Join(filepath.Dir(cfg.FairnessCSV), workConservingCSV)); err != nil {
			return nil, err
		}
		wcOut = wcFile
	}
	s.wc = metrics.NewWorkConserving(wcOut, s.clock)
	s.closers = append(s.closers, s.wc)
	if err = s.wc.Register(s.registry); err != nil {
		return nil, err
	}

	observers := []fairqueue.Observer{collector, s.wc}
	if s.fairness != nil {
		observers = append(observers, s.fairness)
	}

	s.fq = fairqueue.New(cfg.FairQueue(),
		fairqueue.WithClock(s.clock),
		fairqueue.WithLogger(log.WithName("fairqueue")),
		fairqueue.WithObserver(metrics.Observers(observers...)),
	)

	classes := make(map[string]*fairqueue.PriorityClass, len(cfg.Classes))
	for _, class := range cfg.Classes {
		pc := s.fq.RegisterPriorityClass(class.Shares)
		names.Set(pc, class.Name)
		classes[class.Name] = pc
	}

	s.reactor = reactor.New(s.fq, log.WithName("reactor"))
	s.handler = stream_handler.NewStreamHandler(s.reactor, classes, cfg.MaxBytes, log.WithName("stream"))
	return s, nil
}

// Listen opens the QUIC listener. It is called by Start if needed.
func (s *Server) Listen() error {
	tlsConf, err := generateTLSConfig()
	if err != nil {
		return err
	}

	s.listener, err = quic.ListenAddr(s.cfg.Listen, tlsConf, QUICConfig())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return nil
}

// Addr returns the address of the listener, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until ctx is done or a component fails. Requests left queued
// or executing when it returns are reported as fairqueue.ErrNotDrained.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.closeWriters()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.reactor.Run(ctx)
	})

	g.Go(func() error {
		return s.acceptConnections(ctx)
	})

	if s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return s.serveMetrics(ctx)
		})
	}

	if s.fairness != nil {
		interval := time.Duration(s.cfg.FairnessInterval)
		g.Go(func() error {
			s.fairness.Run(ctx, interval)
			return nil
		})
		g.Go(func() error {
			s.wc.Run(ctx, interval)
			return nil
		})
	}

	s.log.Info("Server listening", "addr", s.Addr().String(), "classes", len(s.cfg.Classes))
	return g.Wait()
}

func (s *Server) acceptConnections(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		connection, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.log.V(logging.VERBOSE).Info("Connection accepted", "remote", connection.RemoteAddr().String())

		go s.onConnectionAccepted(ctx, connection)
	}
}

func (s *Server) onConnectionAccepted(ctx context.Context, connection quic.Connection) {
	for {
		stream, err := connection.AcceptStream(ctx)
		if err != nil {
			s.log.V(logging.VERBOSE).Info("Connection closed",
				"remote", connection.RemoteAddr().String(), "reason", err.Error())
			return
		}

		go s.handler.HandleStream(stream)
	}
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Serving metrics", "addr", s.cfg.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Registry returns the registry holding the server metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) closeWriters() {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	s.closers = nil
	if err != nil {
		s.log.Error(err, "Closing metrics writers")
	}
}
