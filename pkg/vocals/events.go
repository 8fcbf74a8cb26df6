package vocals

// ResponseEvent is a decoded server message. The concrete type is one of
// PartialEvent, CompleteEvent or ErrorEvent.
type ResponseEvent interface {
	Raw() *Response
	responseEvent()
}

// PartialEvent is a non-terminal response: a partial transcript, an
// enrollment percentage, a failed authentication attempt that may still
// succeed, a chunk of synthesized audio.
type PartialEvent struct {
	Response *Response
	Progress float64
	Text     string
	Audio    []byte
	Score    float64
	// TurnEnd marks the last chunk of one chat reply. The chat session
	// itself continues until the client stops sending.
	TurnEnd bool
}

func (e *PartialEvent) Raw() *Response { return e.Response }
func (*PartialEvent) responseEvent()    {}

// CompleteEvent is the terminal response for services that have one.
type CompleteEvent struct {
	Response *Response
	Success  bool
	Score    float64
}

func (e *CompleteEvent) Raw() *Response { return e.Response }
func (*CompleteEvent) responseEvent()    {}

// ErrorEvent is an error reported in-band by the server.
type ErrorEvent struct {
	Response *Response
	Code     string
	Message  string
}

func (e *ErrorEvent) Raw() *Response { return e.Response }
func (*ErrorEvent) responseEvent()    {}

// DecodeResponse classifies a wire response for the given service.
func DecodeResponse(service Service, resp *Response) ResponseEvent {
	if resp.Error != nil {
		return &ErrorEvent{Response: resp, Code: resp.Error.Code, Message: resp.Error.Message}
	}

	switch service {
	case ServiceEnroll:
		if e := resp.Enrollment; e != nil {
			if e.PercentComplete >= 100 {
				return &CompleteEvent{Response: resp, Success: true}
			}
			return &PartialEvent{Response: resp, Progress: e.PercentComplete}
		}
	case ServiceAuthenticate:
		if a := resp.Authentication; a != nil {
			if a.Success || a.Final {
				return &CompleteEvent{Response: resp, Success: a.Success, Score: a.Score}
			}
			return &PartialEvent{Response: resp, Score: a.Score}
		}
	case ServiceLiveness:
		if l := resp.Liveness; l != nil {
			if l.IsAlive || l.Final {
				return &CompleteEvent{Response: resp, Success: l.IsAlive, Score: l.Score}
			}
			return &PartialEvent{Response: resp, Score: l.Score}
		}
	case ServiceSynthesize:
		if a := resp.Audio; a != nil {
			if a.Final {
				return &CompleteEvent{Response: resp, Success: true}
			}
			return &PartialEvent{Response: resp, Audio: a.Data}
		}
	case ServiceChat:
		if c := resp.Chat; c != nil {
			return &PartialEvent{Response: resp, Text: c.Text, TurnEnd: c.Final}
		}
	}

	// Transcription and chat never terminate in-band; the stream end
	// completes them.
	if t := resp.Transcript; t != nil {
		return &PartialEvent{Response: resp, Text: t.Text}
	}
	return &PartialEvent{Response: resp}
}
