package vocals

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

// logLines decodes every JSON line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		lines = append(lines, line)
	}
	return lines
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, TraceLevel, ParseLogLevel("trace"))
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("whatever"))
}

func TestVocalsLogger_StructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewVocalsLogger(&LogConfig{
		Level:  InfoLevel,
		Output: &buf,
		Fields: map[string]interface{}{"app": "test"},
	})

	logger.Debug("hidden")
	logger.WithComponent("Session").WithField("seq", 3).Info("sent")
	logger.WithError(errors.New("boom")).Warnf("retry %d", 2)

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "sent", lines[0]["message"])
	assert.Equal(t, "Session", lines[0]["component"])
	assert.Equal(t, 3.0, lines[0]["seq"])
	assert.Equal(t, "test", lines[0]["app"])

	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "retry 2", lines[1]["message"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestVocalsLogger_LogErrorAndResult(t *testing.T) {
	var buf bytes.Buffer
	logger := NewVocalsLogger(&LogConfig{Level: TraceLevel, Output: &buf})

	logger.LogError(NewProtocolError(&Outcome{Code: codes.InvalidArgument, Message: "bad frame"}).AddDetail("seq", 4))
	logger.LogResult(&RunResult{
		SessionID:  "s-1",
		Service:    ServiceTranscribe,
		Outcome:    &Outcome{Code: codes.OK},
		ChunksSent: 5,
		BytesSent:  500,
		Duration:   time.Second,
	})
	logger.LogResponseEvent(transcript("hi", false))

	lines := logLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, ErrCodeProtocol, lines[0]["error_code"])
	assert.Equal(t, 4.0, lines[0]["seq"])
	assert.Equal(t, 3.0, lines[0]["status_code"])
	assert.Equal(t, "bad frame", lines[0]["message"])
	assert.Equal(t, "s-1", lines[1]["session_id"])
	assert.Equal(t, "transcribe", lines[1]["service"])
	assert.Equal(t, 5.0, lines[1]["chunks_sent"])
	assert.Equal(t, "OK", lines[1]["outcome"])
	assert.Equal(t, "partial", lines[2]["kind"])
	assert.Equal(t, "hi", lines[2]["text"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.WithComponent("x").Error("dropped")
		logger.LogResult(&RunResult{})
	})
}
