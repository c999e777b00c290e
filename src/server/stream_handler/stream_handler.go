package stream_handler

import (
	"bufio"
	"errors"
	"fairq/src/logging"
	"fairq/src/model"
	"fairq/src/server/fairqueue"
	"fairq/src/server/reactor"
	"fmt"
	"io"

	"github.com/go-logr/logr"
)

const MaxResponseSize = model.MAX_RESPONSE_SIZE

var (
	ErrUnknownClass = errors.New("unknown priority class")
	ErrTooLarge     = errors.New("request size too large")
	ErrStopped      = errors.New("server stopped")
)

// Stream is the part of a quic.Stream used by the handler.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// This class is responsible for handling incoming streams
type StreamHandler struct {
	reactor *reactor.Reactor
	classes map[string]*fairqueue.PriorityClass
	maxSize uint32
	log     logr.Logger
}

// NewStreamHandler serves requests of the given classes through r. classes
// must not be modified afterwards. Requests larger than maxBytes, the byte
// capacity of the fair queue, or than MaxResponseSize are rejected.
func NewStreamHandler(r *reactor.Reactor, classes map[string]*fairqueue.PriorityClass, maxBytes uint32, log logr.Logger) *StreamHandler {
	maxSize := uint32(MaxResponseSize)
	if maxBytes < maxSize {
		maxSize = maxBytes
	}

	return &StreamHandler{
		reactor: r,
		classes: classes,
		maxSize: maxSize,
		log:     log,
	}
}

// HandleStream reads one request from stream and submits it to the reactor.
// The stream is closed once the response is sent, or right away if the
// request is invalid.
func (s *StreamHandler) HandleStream(stream Stream) {
	// receive request
	req, err := model.ReadRequest(bufio.NewReader(stream))
	if err == nil {
		err = s.validate(req)
	}
	if err != nil {
		s.log.Error(err, "Invalid request")
		stream.Close()
		return
	}

	s.log.V(logging.DEBUG).Info("Request received", "id", req.ID, "class", req.Class, "ticket", req.Ticket())

	// enqueue request processing
	submitted := s.reactor.Submit(s.classes[req.Class], req.Ticket(), func(done func()) {
		defer done()
		s.handleRequest(stream, req)
	})
	if !submitted {
		s.log.V(logging.VERBOSE).Info("Request dropped", "id", req.ID, "reason", ErrStopped.Error())
		stream.Close()
	}
}

func (s *StreamHandler) validate(req *model.Request) error {
	if _, ok := s.classes[req.Class]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownClass, req.Class)
	}
	if req.Size > s.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, req.Size, s.maxSize)
	}
	return nil
}

func (s *StreamHandler) handleRequest(stream Stream, req *model.Request) {
	defer stream.Close()

	// send response
	res := model.Response{
		ID:    req.ID,
		Class: req.Class,
		Data:  make([]byte, req.Size),
	}
	if err := res.Write(bufio.NewWriter(stream)); err != nil {
		s.log.Error(err, "Response failed", "id", req.ID)
		return
	}
	s.log.V(logging.TRACE).Info("Response sent", "id", req.ID, "bytes", req.Size)
}
