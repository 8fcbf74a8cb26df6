package device

import (
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rojolang/vocals-duplex-go/pkg/vocals"
)

type SpeakerOptions struct {
	DeviceID       *int
	SampleRate     int
	FramesPerChunk int
}

// Speaker plays mono PCM16 through a blocking PortAudio output stream.
type Speaker struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func OpenSpeaker(opts SpeakerOptions) (*Speaker, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.FramesPerChunk <= 0 {
		opts.FramesPerChunk = opts.SampleRate / 25
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, captureError("failed to initialize audio", err)
	}

	s := &Speaker{buf: make([]int16, opts.FramesPerChunk)}
	var err error
	if opts.DeviceID != nil {
		var dev *portaudio.DeviceInfo
		dev, err = deviceByID(*opts.DeviceID)
		if err == nil {
			params := portaudio.LowLatencyParameters(nil, dev)
			params.Output.Channels = 1
			params.SampleRate = float64(opts.SampleRate)
			params.FramesPerBuffer = opts.FramesPerChunk
			s.stream, err = portaudio.OpenStream(params, s.buf)
		}
	} else {
		s.stream, err = portaudio.OpenDefaultStream(0, 1, float64(opts.SampleRate), opts.FramesPerChunk, s.buf)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, captureError("failed to open output stream", err)
	}
	if err := s.stream.Start(); err != nil {
		_ = s.stream.Close()
		_ = portaudio.Terminate()
		return nil, captureError("failed to start output stream", err)
	}
	return s, nil
}

// Play blocks until pcm has been handed to the device. The last block is
// padded with silence.
func (s *Speaker) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vocals.NewVocalsError("speaker closed", vocals.ErrCodeSessionState)
	}

	samples := vocals.PCM16ToInt16(pcm)
	for off := 0; off < len(samples); off += len(s.buf) {
		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil {
			return captureError("failed to write to speaker", err)
		}
	}
	return nil
}

// Handler plays every synthesized audio chunk as it arrives.
func (s *Speaker) Handler() vocals.EventHandler {
	logger := vocals.GetGlobalLogger().WithComponent("Speaker")
	return vocals.CreateAudioHandler(func(data []byte, _ int) {
		if err := s.Play(data); err != nil {
			logger.WithError(err).Warn("playback failed")
		}
	})
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	_ = portaudio.Terminate()
	if err != nil {
		return captureError("failed to close output stream", err)
	}
	return nil
}
