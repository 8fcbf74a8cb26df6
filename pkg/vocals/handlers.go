package vocals

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Factory functions for common event handlers. None of them stop the
// session on their own unless documented.

func CreateLoggingEventHandler(logger *VocalsLogger, verbose bool) EventHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	logger = logger.WithComponent("Events")
	return func(ev ResponseEvent) bool {
		switch e := ev.(type) {
		case *PartialEvent:
			if verbose {
				logger.Infof("partial: progress=%.1f text=%q audio=%d bytes score=%.3f", e.Progress, e.Text, len(e.Audio), e.Score)
			} else {
				logger.Debugf("partial response %d", e.Response.Seq)
			}
		case *CompleteEvent:
			logger.Infof("complete: success=%t score=%.3f", e.Success, e.Score)
		case *ErrorEvent:
			logger.Warnf("server error %s: %s", e.Code, e.Message)
		}
		return false
	}
}

// CreateJSONDumpHandler writes every raw response to w as one JSON line.
func CreateJSONDumpHandler(w io.Writer) EventHandler {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(ev ResponseEvent) bool {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(ev.Raw())
		return false
	}
}

func CreateProgressHandler(callback func(percent float64)) EventHandler {
	return func(ev ResponseEvent) bool {
		switch e := ev.(type) {
		case *PartialEvent:
			if e.Response != nil && e.Response.Enrollment != nil {
				callback(e.Progress)
			}
		case *CompleteEvent:
			if e.Response != nil && e.Response.Enrollment != nil {
				callback(e.Response.Enrollment.PercentComplete)
			}
		}
		return false
	}
}

// CreateScoreHandler reports every authentication or liveness score.
func CreateScoreHandler(callback func(score float64, final, success bool)) EventHandler {
	return func(ev ResponseEvent) bool {
		switch e := ev.(type) {
		case *PartialEvent:
			if r := e.Response; r != nil && (r.Authentication != nil || r.Liveness != nil) {
				callback(e.Score, false, false)
			}
		case *CompleteEvent:
			if r := e.Response; r != nil && (r.Authentication != nil || r.Liveness != nil) {
				callback(e.Score, true, e.Success)
			}
		}
		return false
	}
}

func CreateAudioHandler(callback func(data []byte, sampleRate int)) EventHandler {
	return func(ev ResponseEvent) bool {
		if e, ok := ev.(*PartialEvent); ok && len(e.Audio) > 0 {
			rate := 0
			if e.Response != nil && e.Response.Audio != nil {
				rate = e.Response.Audio.SampleRate
			}
			callback(e.Audio, rate)
		}
		return false
	}
}

func CreateTranscriptionHandler(callback func(text string, isFinal bool)) EventHandler {
	return func(ev ResponseEvent) bool {
		if e, ok := ev.(*PartialEvent); ok && e.Response != nil && e.Response.Transcript != nil {
			t := e.Response.Transcript
			if t.Text != "" {
				callback(t.Text, t.IsFinal)
			}
		}
		return false
	}
}

// CreateStopAfterHandler stops the session after n events.
func CreateStopAfterHandler(n int) EventHandler {
	var seen int
	return func(ResponseEvent) bool {
		seen++
		return seen >= n
	}
}

// SequentialEventHandlers runs handlers in order. The session stops if any
// of them asks it to.
func SequentialEventHandlers(handlers ...EventHandler) EventHandler {
	return func(ev ResponseEvent) bool {
		stop := false
		for _, h := range handlers {
			if h != nil && h(ev) {
				stop = true
			}
		}
		return stop
	}
}

func CreateErrorLoggingHandler(logger *VocalsLogger) ErrorHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(err *VocalsError) {
		if err != nil {
			logger.LogError(err)
		}
	}
}

// TranscriptCollector accumulates transcript and chat text in arrival order.
type TranscriptCollector struct {
	mu      sync.Mutex
	finals  []string
	partial string
	replies []string
	turn    strings.Builder
}

func NewTranscriptCollector() *TranscriptCollector {
	return &TranscriptCollector{}
}

// Handler feeds the collector; it never stops the session.
func (tc *TranscriptCollector) Handler() EventHandler {
	return func(ev ResponseEvent) bool {
		resp := ev.Raw()
		if resp == nil {
			return false
		}
		tc.mu.Lock()
		defer tc.mu.Unlock()
		if t := resp.Transcript; t != nil {
			if t.IsFinal {
				tc.finals = append(tc.finals, t.Text)
				tc.partial = ""
			} else {
				tc.partial = t.Text
			}
		}
		if c := resp.Chat; c != nil {
			tc.turn.WriteString(c.Text)
			if c.Final {
				tc.replies = append(tc.replies, tc.turn.String())
				tc.turn.Reset()
			}
		}
		return false
	}
}

// Transcript joins the final segments and any pending partial.
func (tc *TranscriptCollector) Transcript() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	parts := append([]string(nil), tc.finals...)
	if tc.partial != "" {
		parts = append(parts, tc.partial)
	}
	return strings.Join(parts, " ")
}

func (tc *TranscriptCollector) Segments() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]string(nil), tc.finals...)
}

// Replies returns one string per chat turn, including an unfinished one.
func (tc *TranscriptCollector) Replies() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	replies := append([]string(nil), tc.replies...)
	if tc.turn.Len() > 0 {
		replies = append(replies, tc.turn.String())
	}
	return replies
}

// Reply joins the chat turns with newlines.
func (tc *TranscriptCollector) Reply() string {
	return strings.Join(tc.Replies(), "\n")
}

func (tc *TranscriptCollector) Clear() {
	tc.mu.Lock()
	tc.finals = nil
	tc.partial = ""
	tc.replies = nil
	tc.turn.Reset()
	tc.mu.Unlock()
}

// TapSource calls fn with every chunk read from inner before passing it on.
type TapSource struct {
	inner CaptureSource
	fn    func(CaptureChunk)
}

func NewTapSource(inner CaptureSource, fn func(CaptureChunk)) *TapSource {
	return &TapSource{inner: inner, fn: fn}
}

func (t *TapSource) Next(ctx context.Context) (CaptureChunk, error) {
	c, err := t.inner.Next(ctx)
	if err == nil && t.fn != nil {
		t.fn(c)
	}
	return c, err
}

func (t *TapSource) Close() error {
	return t.inner.Close()
}

// CreateAudioLevelMonitor reports the mean and peak level of PCM16 chunks.
func CreateAudioLevelMonitor(callback func(avg, peak float32)) func(CaptureChunk) {
	return func(c CaptureChunk) {
		if c.Kind != ChunkAudio || len(c.Data) < 2 {
			return
		}
		samples := PCM16ToFloat32(c.Data)
		var sum float64
		var peak float32
		for _, v := range samples {
			abs := float32(math.Abs(float64(v)))
			sum += float64(abs)
			if abs > peak {
				peak = abs
			}
		}
		callback(float32(sum/float64(len(samples))), peak)
	}
}

// CreateAudioSilenceDetector calls callback once the RMS level of PCM16
// chunks stayed below threshold for silenceDuration.
func CreateAudioSilenceDetector(threshold float32, silenceDuration time.Duration, callback func()) func(CaptureChunk) {
	var mu sync.Mutex
	var silenceStart time.Time

	return func(c CaptureChunk) {
		if c.Kind != ChunkAudio || len(c.Data) < 2 {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		if CalculateRMS(PCM16ToFloat32(c.Data)) < threshold {
			if silenceStart.IsZero() {
				silenceStart = time.Now()
			} else if time.Since(silenceStart) >= silenceDuration {
				callback()
				silenceStart = time.Time{}
			}
		} else {
			silenceStart = time.Time{}
		}
	}
}
