package vocals

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// CaptureSource produces capture chunks on demand. Next returns io.EOF once
// the source is exhausted and must return ctx.Err() soon after ctx is done,
// even while waiting for input. Close releases the underlying device or file
// and is always called by the Controller.
type CaptureSource interface {
	Next(ctx context.Context) (CaptureChunk, error)
	Close() error
}

// SliceSource replays a fixed list of chunks.
type SliceSource struct {
	chunks []CaptureChunk
	pos    int
	closed bool
}

func NewSliceSource(chunks ...CaptureChunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

func (s *SliceSource) Next(ctx context.Context) (CaptureChunk, error) {
	if err := ctx.Err(); err != nil {
		return CaptureChunk{}, err
	}
	if s.closed || s.pos >= len(s.chunks) {
		return CaptureChunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	if c.Seq == 0 {
		c.Seq = int64(s.pos)
	}
	return c, nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	return s.closed
}

// SilenceSource returns n chunks of size zero bytes each.
func SilenceSource(n, size int) *SliceSource {
	chunks := make([]CaptureChunk, n)
	silence := make([]byte, size)
	for i := range chunks {
		chunks[i] = CaptureChunk{Data: silence, Size: size, Kind: ChunkAudio, Seq: int64(i + 1)}
	}
	return NewSliceSource(chunks...)
}

type readResult struct {
	data []byte
	err  error
}

// readAhead runs one blocking read at a time in the background so that Next
// can give up on a cancelled context. An abandoned read is kept and handed
// out by the following call; closing the reader ends it.
type readAhead struct {
	results chan readResult
	pending bool
}

func (r *readAhead) next(ctx context.Context, read func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.results == nil {
		r.results = make(chan readResult, 1)
	}
	if !r.pending {
		r.pending = true
		go func() {
			data, err := read()
			r.results <- readResult{data: data, err: err}
		}()
	}
	select {
	case res := <-r.results:
		r.pending = false
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReaderSource cuts an io.Reader into fixed-size chunks. The last chunk may
// be shorter.
type ReaderSource struct {
	r         io.Reader
	closer    io.Closer
	chunkSize int
	kind      ChunkKind
	seq       int64
	reads     readAhead
}

func NewReaderSource(r io.Reader, chunkSize int, kind ChunkKind) *ReaderSource {
	s := &ReaderSource{r: r, chunkSize: chunkSize, kind: kind}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *ReaderSource) Next(ctx context.Context) (CaptureChunk, error) {
	data, err := s.reads.next(ctx, s.read)
	if err != nil {
		return CaptureChunk{}, err
	}
	s.seq++
	return CaptureChunk{Data: data, Size: len(data), Kind: s.kind, Seq: s.seq}, nil
}

func (s *ReaderSource) read() ([]byte, error) {
	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func (s *ReaderSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// LineSource yields one text chunk per non-empty input line.
type LineSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	seq     int64
	reads   readAhead
}

func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *LineSource) Next(ctx context.Context) (CaptureChunk, error) {
	data, err := s.reads.next(ctx, s.readLine)
	if err != nil {
		return CaptureChunk{}, err
	}
	s.seq++
	return CaptureChunk{Data: data, Size: len(data), Kind: ChunkText, Seq: s.seq}, nil
}

func (s *LineSource) readLine() ([]byte, error) {
	for s.scanner.Scan() {
		if line := s.scanner.Bytes(); len(line) > 0 {
			return append([]byte(nil), line...), nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *LineSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// PacedSource releases chunks from an inner source no faster than one per
// interval, so recorded media streams at capture speed.
type PacedSource struct {
	inner   CaptureSource
	limiter *rate.Limiter
}

func NewPacedSource(inner CaptureSource, interval time.Duration) *PacedSource {
	return &PacedSource{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// ChunkInterval is the playback time of one PCM16 chunk.
func ChunkInterval(chunkBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	frames := chunkBytes / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func (p *PacedSource) Next(ctx context.Context) (CaptureChunk, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return CaptureChunk{}, err
	}
	return p.inner.Next(ctx)
}

func (p *PacedSource) Close() error {
	return p.inner.Close()
}
