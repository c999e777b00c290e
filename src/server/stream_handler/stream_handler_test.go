package stream_handler_test

import (
	"bufio"
	"bytes"
	"context"
	"fairq/src/logging"
	"fairq/src/model"
	"fairq/src/server/fairqueue"
	"fairq/src/server/reactor"
	"fairq/src/server/stream_handler"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	in *bytes.Reader

	mu     sync.Mutex
	out    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(t *testing.T, req model.Request) *fakeStream {
	t.Helper()

	buf := &bytes.Buffer{}
	require.NoError(t, req.Write(buf))
	return &fakeStream{
		in:     bytes.NewReader(buf.Bytes()),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) waitClosed(t *testing.T) []byte {
	t.Helper()

	select {
	case <-s.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream was never closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Bytes()
}

const capacity = 1_000_000

func newHandler(t *testing.T) (*stream_handler.StreamHandler, *fairqueue.FairQueue) {
	t.Helper()

	fq := fairqueue.New(fairqueue.NewConfig(2, capacity))
	classes := map[string]*fairqueue.PriorityClass{
		model.HIGH_PRIORITY: fq.RegisterPriorityClass(model.HIGH_PRIORITY_SHARES),
		model.LOW_PRIORITY:  fq.RegisterPriorityClass(model.LOW_PRIORITY_SHARES),
	}

	r := reactor.New(fq, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})

	return stream_handler.NewStreamHandler(r, classes, capacity, logging.NewTestLogger()), fq
}

func TestHandleStream(t *testing.T) {
	handler, _ := newHandler(t)

	id := uuid.New()
	stream := newFakeStream(t, model.Request{ID: id, Class: model.HIGH_PRIORITY, Size: 1024})
	handler.HandleStream(stream)

	res, err := model.ReadResponse(bufio.NewReader(bytes.NewReader(stream.waitClosed(t))))
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, model.HIGH_PRIORITY, res.Class)
	assert.Len(t, res.Data, 1024)
}

func TestHandleStream_Concurrent(t *testing.T) {
	handler, _ := newHandler(t)

	var streams []*fakeStream
	for i := 0; i < 20; i++ {
		class := model.LOW_PRIORITY
		if i%2 == 0 {
			class = model.HIGH_PRIORITY
		}
		stream := newFakeStream(t, model.Request{ID: uuid.New(), Class: class, Size: 10})
		streams = append(streams, stream)
		go handler.HandleStream(stream)
	}

	for _, stream := range streams {
		res, err := model.ReadResponse(bufio.NewReader(bytes.NewReader(stream.waitClosed(t))))
		require.NoError(t, err)
		assert.Len(t, res.Data, 10)
	}
}

func TestHandleStream_Invalid(t *testing.T) {
	tests := map[string]model.Request{
		"unknown class": {ID: uuid.New(), Class: "medium", Size: 10},
		"too large":     {ID: uuid.New(), Class: model.LOW_PRIORITY, Size: stream_handler.MaxResponseSize + 1},
		"over capacity": {ID: uuid.New(), Class: model.LOW_PRIORITY, Size: capacity + 1},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			handler, fq := newHandler(t)

			stream := newFakeStream(t, req)
			handler.HandleStream(stream)

			assert.Empty(t, stream.waitClosed(t))
			assert.Equal(t, fairqueue.Ticket{}, fq.ResourcesCurrentlyWaiting())
		})
	}
}

func TestHandleStream_Malformed(t *testing.T) {
	handler, _ := newHandler(t)

	stream := &fakeStream{
		in:     bytes.NewReader([]byte("garbage")),
		closed: make(chan struct{}),
	}
	handler.HandleStream(stream)

	assert.Empty(t, stream.waitClosed(t))
}

func TestHandleStream_ReactorStopped(t *testing.T) {
	fq := fairqueue.New(fairqueue.DefaultConfig())
	classes := map[string]*fairqueue.PriorityClass{
		model.LOW_PRIORITY: fq.RegisterPriorityClass(model.LOW_PRIORITY_SHARES),
	}

	r := reactor.New(fq, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	handler := stream_handler.NewStreamHandler(r, classes, capacity, logging.NewTestLogger())
	stream := newFakeStream(t, model.Request{ID: uuid.New(), Class: model.LOW_PRIORITY, Size: 10})
	handler.HandleStream(stream)

	assert.Empty(t, stream.waitClosed(t))
	assert.Equal(t, fairqueue.Ticket{}, fq.ResourcesCurrentlyWaiting())
}
