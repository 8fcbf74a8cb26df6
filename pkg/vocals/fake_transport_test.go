package vocals

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeStream is an in-memory Stream whose server side is scripted through
// onSend and onHalfClose hooks.
type fakeStream struct {
	mu         sync.Mutex
	requests   []Request
	closeSends int
	failAfter  int
	sendErr    error
	ended      bool

	respCh  chan *Response
	endOnce sync.Once
	endErr  error

	closed    chan struct{}
	closeOnce sync.Once

	onSend      func(*fakeStream, *Request)
	onHalfClose func(*fakeStream)
}

// newFakeStream returns a stream whose server ends OK once the client
// half-closes.
func newFakeStream() *fakeStream {
	return &fakeStream{
		respCh:      make(chan *Response, 256),
		closed:      make(chan struct{}),
		onHalfClose: func(f *fakeStream) { f.end(nil) },
	}
}

func (f *fakeStream) Send(r *Request) error {
	select {
	case <-f.closed:
		return status.Error(codes.Canceled, "stream closed")
	default:
	}

	f.mu.Lock()
	if f.failAfter > 0 && len(f.requests) >= f.failAfter {
		err := f.sendErr
		f.mu.Unlock()
		f.end(status.Error(codes.Unavailable, "connection reset"))
		return err
	}
	// Session reuses its Request, so keep a deep copy.
	cp := *r
	if r.Config != nil {
		cfg := *r.Config
		cp.Config = &cfg
	}
	cp.Audio = append([]byte(nil), r.Audio...)
	cp.Image = append([]byte(nil), r.Image...)
	f.requests = append(f.requests, cp)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(f, &cp)
	}
	return nil
}

func (f *fakeStream) Recv() (*Response, error) {
	select {
	case r, ok := <-f.respCh:
		if !ok {
			return nil, f.endErr
		}
		return r, nil
	case <-f.closed:
		return nil, status.Error(codes.Canceled, "stream closed")
	}
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.closeSends++
	hook := f.onHalfClose
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// respond queues a server response. Responses after end are dropped.
func (f *fakeStream) respond(r *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	f.respCh <- r
}

// end finishes the server side; nil means an OK status.
func (f *fakeStream) end(err error) {
	f.endOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		f.mu.Lock()
		f.ended = true
		f.endErr = err
		close(f.respCh)
		f.mu.Unlock()
	})
}

func (f *fakeStream) sent() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *fakeStream) halfCloses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeSends
}

type fakeTransport struct {
	stream  *fakeStream
	openErr error

	mu       sync.Mutex
	services []Service
}

func newFakeTransport(s *fakeStream) *fakeTransport {
	return &fakeTransport{stream: s}
}

func (t *fakeTransport) OpenStream(ctx context.Context, service Service) (Stream, error) {
	t.mu.Lock()
	t.services = append(t.services, service)
	t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.stream, nil
}

func (t *fakeTransport) Close() error {
	return nil
}

// errSource fails on the first Next.
type errSource struct {
	err    error
	closed bool
}

func (s *errSource) Next(context.Context) (CaptureChunk, error) {
	return CaptureChunk{}, s.err
}

func (s *errSource) Close() error {
	s.closed = true
	return nil
}

func audioChunks(n, size int) []CaptureChunk {
	chunks := make([]CaptureChunk, n)
	for i := range chunks {
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i + 1)
		}
		chunks[i] = CaptureChunk{Data: data, Size: size, Kind: ChunkAudio}
	}
	return chunks
}
