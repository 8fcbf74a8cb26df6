package vocals

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AudioBufferEntry is one segment retained by AudioSink. Seq numbers
// segments from 1 when the caller passes zero.
type AudioBufferEntry struct {
	Seq        int64
	AudioData  []byte
	SampleRate int
	Timestamp  time.Time
	Duration   time.Duration
}

// AudioSink collects synthesized PCM16 audio from a session. With an output
// directory it also writes every segment as its own WAV file.
type AudioSink struct {
	outputDir     string
	maxBufferSize int
	defaultRate   int

	mu            sync.RWMutex
	buffer        []AudioBufferEntry
	all           []byte
	sampleRate    int
	totalBytes    int64
	totalSegments int
	onSegment     func(AudioBufferEntry)
}

// NewAudioSink keeps at most maxBufferSize recent segments in memory (zero
// keeps all). defaultRate applies when the server omits a sample rate.
func NewAudioSink(outputDir string, maxBufferSize, defaultRate int) (*AudioSink, error) {
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audio output directory: %w", err)
		}
	}
	return &AudioSink{
		outputDir:     outputDir,
		maxBufferSize: maxBufferSize,
		defaultRate:   defaultRate,
	}, nil
}

// OnSegment registers a callback run synchronously for every segment.
func (s *AudioSink) OnSegment(fn func(AudioBufferEntry)) {
	s.mu.Lock()
	s.onSegment = fn
	s.mu.Unlock()
}

// Handler adds every audio chunk of the session to the sink.
func (s *AudioSink) Handler() EventHandler {
	return CreateAudioHandler(func(data []byte, rate int) {
		if err := s.Add(0, data, rate); err != nil {
			GetGlobalLogger().WithComponent("AudioSink").WithError(err).Warn("failed to store audio segment")
		}
	})
}

func (s *AudioSink) Add(seq int64, data []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = s.defaultRate
	}
	entry := AudioBufferEntry{
		Seq:        seq,
		AudioData:  append([]byte(nil), data...),
		SampleRate: sampleRate,
		Timestamp:  time.Now(),
		Duration:   PCM16Duration(int64(len(data)), sampleRate, 1),
	}

	s.mu.Lock()
	s.totalSegments++
	if entry.Seq == 0 {
		entry.Seq = int64(s.totalSegments)
	}
	s.totalBytes += int64(len(data))
	s.all = append(s.all, data...)
	if s.sampleRate == 0 {
		s.sampleRate = sampleRate
	}
	s.buffer = append(s.buffer, entry)
	if s.maxBufferSize > 0 && len(s.buffer) > s.maxBufferSize {
		s.buffer = s.buffer[len(s.buffer)-s.maxBufferSize:]
	}
	onSegment := s.onSegment
	s.mu.Unlock()

	if onSegment != nil {
		onSegment(entry)
	}
	if s.outputDir != "" {
		return s.saveSegment(entry)
	}
	return nil
}

func (s *AudioSink) saveSegment(entry AudioBufferEntry) error {
	name := fmt.Sprintf("%s_%04d.wav", entry.Timestamp.Format("20060102_150405"), entry.Seq)
	return os.WriteFile(filepath.Join(s.outputDir, name), EncodeWAV(entry.AudioData, entry.SampleRate, 1), 0o644)
}

// WriteWAV writes everything received so far as one WAV file.
func (s *AudioSink) WriteWAV(path string) error {
	s.mu.RLock()
	data := EncodeWAV(s.all, s.rate(), 1)
	s.mu.RUnlock()
	return os.WriteFile(path, data, 0o644)
}

// PCM returns everything received so far.
func (s *AudioSink) PCM() ([]byte, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.all...), s.rate()
}

func (s *AudioSink) rate() int {
	if s.sampleRate > 0 {
		return s.sampleRate
	}
	return s.defaultRate
}

// GetBuffer returns a copy of the retained segments.
func (s *AudioSink) GetBuffer() []AudioBufferEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buffer := make([]AudioBufferEntry, len(s.buffer))
	copy(buffer, s.buffer)
	return buffer
}

func (s *AudioSink) GetLatestEntry() *AudioBufferEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buffer) == 0 {
		return nil
	}
	latest := s.buffer[len(s.buffer)-1]
	return &latest
}

// AudioSinkStats summarizes a sink.
type AudioSinkStats struct {
	TotalSegments    int
	BufferedSegments int
	TotalBytes       int64
	TotalDuration    time.Duration
	OutputDirectory  string
}

func (s *AudioSink) GetStats() AudioSinkStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AudioSinkStats{
		TotalSegments:    s.totalSegments,
		BufferedSegments: len(s.buffer),
		TotalBytes:       s.totalBytes,
		TotalDuration:    PCM16Duration(s.totalBytes, s.rate(), 1),
		OutputDirectory:  s.outputDir,
	}
}
