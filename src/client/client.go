// Package client is a QUIC load generator. It sends requests of every class
// to the server and measures how long each one waits for its response.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fairq/src/client/netstats"
	"fairq/src/logging"
	"fairq/src/model"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type ClientOptions struct {
	// Address of the server
	Addr string

	// Classes requested, in turn
	Classes []string

	// Requests sent per class
	Requests int

	// Cost of each request
	Weight uint32
	Size   uint32

	// Requests in flight at most
	Concurrency int

	// Requests per second over all classes, 0 for no pacing
	Rate float64

	// Timeout of each request, 0 for none
	Timeout time.Duration

	// CSV with one row per completed request, none if empty
	StatisticsPath string
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Addr:        "localhost:8000",
		Classes:     []string{model.HIGH_PRIORITY, model.LOW_PRIORITY},
		Requests:    100,
		Weight:      model.DEFAULT_REQUEST_WEIGHT,
		Size:        64 << 10,
		Concurrency: 32,
		Timeout:     30 * time.Second,
	}
}

// Validate reports every invalid option.
func (o ClientOptions) Validate() error {
	var err error
	if o.Addr == "" {
		err = multierr.Append(err, errors.New("server address must not be empty"))
	}
	if len(o.Classes) == 0 {
		err = multierr.Append(err, errors.New("at least one class must be requested"))
	}
	if o.Requests <= 0 {
		err = multierr.Append(err, fmt.Errorf("requests must be positive, got %d", o.Requests))
	}
	if o.Concurrency <= 0 {
		err = multierr.Append(err, fmt.Errorf("concurrency must be positive, got %d", o.Concurrency))
	}
	if o.Rate < 0 {
		err = multierr.Append(err, fmt.Errorf("rate must not be negative, got %f", o.Rate))
	}
	return err
}

type Client struct {
	Options    ClientOptions
	log        logr.Logger
	connection quic.Connection

	statsCollector *netstats.StatsCollector
	limiter        *rate.Limiter
}

func NewClient(options ClientOptions, log logr.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.Rate), 1)
	}

	return &Client{
		Options:        options,
		log:            log,
		statsCollector: netstats.New(20), // Average over the last 20 responses
		limiter:        limiter,
	}
}

// QUICConfig returns the transport parameters of the client.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        5 * time.Minute,
		HandshakeIdleTimeout:  10 * time.Second,
		MaxIncomingStreams:    -1, // The server never opens streams
		MaxIncomingUniStreams: -1,
	}
}

// Connect the client
func (c *Client) Connect(ctx context.Context) (err error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{model.NEXT_PROTO},
	}

	c.log.V(logging.VERBOSE).Info("Connecting", "addr", c.Options.Addr)
	c.connection, err = quic.DialAddr(ctx, c.Options.Addr, tlsConf, QUICConfig())
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Options.Addr, err)
	}

	c.log.V(logging.VERBOSE).Info("Connected", "addr", c.Options.Addr)
	return nil
}

// Close the connection.
func (c *Client) Close() error {
	if c.connection == nil {
		return nil
	}
	return c.connection.CloseWithError(0, "")
}

// Request sends r on a new stream and waits for its response. It returns the
// response and the time it took.
func (c *Client) Request(ctx context.Context, r model.Request) (*model.Response, time.Duration, error) {
	if c.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Options.Timeout)
		defer cancel()
	}

	stream, err := c.connection.OpenStreamSync(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("open stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(deadline); err != nil {
			return nil, 0, err
		}
	}

	c.statsCollector.RecordSend(r.ID)

	// Request, then close the send direction
	if err := r.Write(stream); err != nil {
		c.statsCollector.Forget(r.ID)
		stream.CancelRead(0)
		return nil, 0, fmt.Errorf("write request: %w", err)
	}
	stream.Close()

	// Response
	res, err := model.ReadResponse(bufio.NewReader(stream))
	if err != nil {
		c.statsCollector.Forget(r.ID)
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if res.ID != r.ID {
		c.statsCollector.Forget(r.ID)
		return nil, 0, fmt.Errorf("response %s does not match request %s", res.ID, r.ID)
	}

	delay, tp := c.statsCollector.RecordRecv(r.ID, len(res.Data))
	c.log.V(logging.DEBUG).Info("Response received",
		"id", r.ID, "class", r.Class, "latency", delay,
		"throughputMBps", tp/1024/1024, "avgThroughputMBps", c.statsCollector.AvgThroughput()/1024/1024)

	return res, delay, nil
}

// Run sends Options.Requests requests for every class, alternating between
// classes, and waits for all of them. Failed requests are counted, not
// returned; the error is only set if ctx ended early or the statistics could
// not be written.
func (c *Client) Run(ctx context.Context) (Summary, error) {
	var statistics *StatisticsLogger
	if c.Options.StatisticsPath != "" {
		var err error
		statistics, err = NewStatisticsLogger(c.Options.StatisticsPath)
		if err != nil {
			return nil, err
		}
	}

	recorder := newSummaryRecorder(c.Options.Classes)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Options.Concurrency)

	err := c.spawnRequests(gctx, g, func(req model.Request) error {
		res, latency, err := c.Request(gctx, req)
		if err != nil {
			recorder.failed(req.Class)
			c.log.Error(err, "Request failed", "id", req.ID, "class", req.Class)
			return nil
		}

		recorder.completed(req.Class, len(res.Data), latency)
		if statistics != nil {
			return statistics.Log(time.Since(start), req, latency)
		}
		return nil
	})
	err = multierr.Append(err, g.Wait())

	if statistics != nil {
		err = multierr.Append(err, statistics.Close())
	}
	return recorder.summary, err
}

func (c *Client) spawnRequests(ctx context.Context, g *errgroup.Group, send func(model.Request) error) error {
	for i := 0; i < c.Options.Requests; i++ {
		for _, class := range c.Options.Classes {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}

			req := model.Request{
				ID:     uuid.New(),
				Class:  class,
				Weight: c.Options.Weight,
				Size:   c.Options.Size,
			}
			g.Go(func() error {
				return send(req)
			})
		}
	}
	return nil
}
