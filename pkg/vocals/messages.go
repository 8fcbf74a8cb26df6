package vocals

// Wire messages shared by every transport. Field names follow the service's
// JSON schema.

// StreamConfig is sent once, as the first message of every stream.
type StreamConfig struct {
	SessionID     string  `json:"session_id" yaml:"-"`
	Service       Service `json:"service" yaml:"service"`
	Model         string  `json:"model,omitempty" yaml:"model"`
	SampleRate    int     `json:"sample_rate,omitempty" yaml:"sample_rate"`
	Channels      int     `json:"channels,omitempty" yaml:"channels"`
	Encoding      string  `json:"encoding,omitempty" yaml:"encoding"`
	Language      string  `json:"language,omitempty" yaml:"language"`
	UserID        string  `json:"user_id,omitempty" yaml:"user_id"`
	EnrollmentID  string  `json:"enrollment_id,omitempty" yaml:"enrollment_id"`
	SecurityLevel float64 `json:"security_level,omitempty" yaml:"security_level"`
	Width         int     `json:"width,omitempty" yaml:"width"`
	Height        int     `json:"height,omitempty" yaml:"height"`
	Text          string  `json:"text,omitempty" yaml:"-"`
	Voice         string  `json:"voice,omitempty" yaml:"voice"`
}

// Request is one client → server message. Exactly one of Config, Audio,
// Image, Text or EndOfStream is set.
type Request struct {
	Seq         int64         `json:"seq"`
	Config      *StreamConfig `json:"config,omitempty"`
	Audio       []byte        `json:"audio,omitempty"`
	Image       []byte        `json:"image,omitempty"`
	Text        string        `json:"text,omitempty"`
	EndOfStream bool          `json:"end_of_stream,omitempty"`
}

func (r *Request) reset() {
	*r = Request{}
}

// Response is one server → client message.
type Response struct {
	Seq            int64                 `json:"seq"`
	Transcript     *TranscriptResult     `json:"transcript,omitempty"`
	Enrollment     *EnrollmentProgress   `json:"enrollment,omitempty"`
	Authentication *AuthenticationResult `json:"authentication,omitempty"`
	Liveness       *LivenessResult       `json:"liveness,omitempty"`
	Audio          *AudioSegment         `json:"audio,omitempty"`
	Chat           *ChatReply            `json:"chat,omitempty"`
	Error          *ErrorDetail          `json:"error,omitempty"`
}

type TranscriptResult struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
}

type EnrollmentProgress struct {
	PercentComplete float64 `json:"percent_complete"`
	EnrollmentID    string  `json:"enrollment_id,omitempty"`
}

type AuthenticationResult struct {
	Success bool    `json:"success"`
	Score   float64 `json:"score"`
	Final   bool    `json:"final,omitempty"`
}

type LivenessResult struct {
	IsAlive bool    `json:"is_alive"`
	Score   float64 `json:"score"`
	Final   bool    `json:"final,omitempty"`
}

type AudioSegment struct {
	Data       []byte `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Final      bool   `json:"final,omitempty"`
}

type ChatReply struct {
	Text  string `json:"text"`
	Final bool   `json:"final,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
