package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rojolang/vocals-duplex-go/pkg/vocals"
)

// MicrophoneOptions selects the input device and block size.
type MicrophoneOptions struct {
	// DeviceID indexes portaudio.Devices(); nil uses the default input.
	DeviceID   *int
	SampleRate int
	Channels   int
	// FramesPerChunk frames are read per Next call.
	FramesPerChunk int
	Logger         *vocals.VocalsLogger
}

// Microphone is a PortAudio input device read in blocking mode. Each Next
// returns one PCM16 block of FramesPerChunk frames.
type Microphone struct {
	stream *portaudio.Stream
	buf    []int16
	seq    int64
	logger *vocals.VocalsLogger

	closeOnce sync.Once
	closeErr  error
}

func OpenMicrophone(opts MicrophoneOptions) (*Microphone, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.FramesPerChunk <= 0 {
		opts.FramesPerChunk = opts.SampleRate / 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = vocals.GetGlobalLogger()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, captureError("failed to initialize audio", err)
	}

	m := &Microphone{
		buf:    make([]int16, opts.FramesPerChunk*opts.Channels),
		logger: logger.WithComponent("Microphone"),
	}

	var err error
	if opts.DeviceID != nil {
		var dev *portaudio.DeviceInfo
		dev, err = deviceByID(*opts.DeviceID)
		if err == nil {
			params := portaudio.LowLatencyParameters(dev, nil)
			params.Input.Channels = opts.Channels
			params.SampleRate = float64(opts.SampleRate)
			params.FramesPerBuffer = opts.FramesPerChunk
			m.stream, err = portaudio.OpenStream(params, m.buf)
		}
	} else {
		m.stream, err = portaudio.OpenDefaultStream(opts.Channels, 0, float64(opts.SampleRate), opts.FramesPerChunk, m.buf)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, captureError("failed to open input stream", err)
	}

	if err := m.stream.Start(); err != nil {
		_ = m.stream.Close()
		_ = portaudio.Terminate()
		return nil, captureError("failed to start input stream", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"sample_rate": opts.SampleRate,
		"channels":    opts.Channels,
		"frames":      opts.FramesPerChunk,
	}).Debug("microphone opened")
	return m, nil
}

// Next blocks for one block of audio. Input overflows are logged and the
// block is still delivered.
func (m *Microphone) Next(ctx context.Context) (vocals.CaptureChunk, error) {
	if err := ctx.Err(); err != nil {
		return vocals.CaptureChunk{}, err
	}
	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return vocals.CaptureChunk{}, captureError("failed to read from microphone", err)
		}
		m.logger.Debug("input overflowed")
	}
	data := vocals.Int16ToPCM16(m.buf)
	m.seq++
	return vocals.CaptureChunk{Data: data, Size: len(data), Kind: vocals.ChunkAudio, Seq: m.seq}, nil
}

func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		if err := m.stream.Stop(); err != nil {
			m.closeErr = captureError("failed to stop input stream", err)
		}
		if err := m.stream.Close(); err != nil && m.closeErr == nil {
			m.closeErr = captureError("failed to close input stream", err)
		}
		_ = portaudio.Terminate()
	})
	return m.closeErr
}

// captureError keeps the PortAudio error code and text for diagnostics.
func captureError(msg string, err error) *vocals.VocalsError {
	code := 0
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		code = int(paErr)
	}
	return vocals.NewCaptureError(msg, code, err.Error(), err)
}

func deviceByID(id int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("device with ID %d not found", id)
	}
	return devices[id], nil
}
