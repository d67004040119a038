package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Protocol constants from the backend contract.
const (
	// Server message types
	TypeSessionStarted      = "session_started"
	TypeTranscriptionResult = "transcription_result"
	TypeSessionEnded        = "session_ended"
	TypeError               = "error"

	// Client message types
	TypeAudioChunk = "audio_chunk"
	TypeEndSession = "end_session"

	// MaxChunkBytes is the transport payload limit for the PCM bytes of a
	// single audio_chunk message. Larger frames are split before sending.
	MaxChunkBytes = 32 * 1024

	// Audio format contract
	TargetSampleRate = 16000
	Channels         = 1
	BitDepth         = 16
)

// SessionConfig is the first message a client sends after the channel opens.
// It has no type tag; the backend treats the opening message as configuration.
type SessionConfig struct {
	LanguageCode         string `json:"language_code"`
	SampleRate           int    `json:"sample_rate"`
	EnablePartialResults bool   `json:"enable_partial_results"`
}

// AudioChunk carries one base64-encoded PCM-16LE payload.
type AudioChunk struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data"`
}

// EndSession tells the backend no further audio will arrive for this session.
type EndSession struct {
	Type string `json:"type"`
}

// TranscriptionResult is the payload of a transcription_result message.
// Partial results are superseded by later partials or by the final result.
type TranscriptionResult struct {
	Transcript   string   `json:"transcript"`
	IsPartial    bool     `json:"is_partial"`
	Confidence   *float64 `json:"confidence,omitempty"`
	StartTime    *float64 `json:"start_time,omitempty"`
	EndTime      *float64 `json:"end_time,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// ServerMessage is the parsed form of any backend-to-client message.
type ServerMessage struct {
	Type         string               `json:"type"`
	SessionID    string               `json:"session_id,omitempty"`
	Result       *TranscriptionResult `json:"result,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

// NewAudioChunk wraps raw PCM bytes into an audio_chunk message. The caller
// is responsible for keeping pcm within MaxChunkBytes.
func NewAudioChunk(pcm []byte) AudioChunk {
	return AudioChunk{
		Type:      TypeAudioChunk,
		AudioData: base64.StdEncoding.EncodeToString(pcm),
	}
}

// NewEndSession builds the end-of-session control message.
func NewEndSession() EndSession {
	return EndSession{Type: TypeEndSession}
}

// DecodeAudioData decodes the base64 payload of an audio_chunk message.
func (a AudioChunk) DecodeAudioData() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.AudioData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}

// ParseServerMessage parses and validates a raw inbound message.
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse server message: %w", err)
	}

	switch msg.Type {
	case TypeSessionStarted, TypeSessionEnded:
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%s message missing session_id", msg.Type)
		}
	case TypeTranscriptionResult:
		if msg.Result == nil {
			return nil, fmt.Errorf("transcription_result message missing result")
		}
	case TypeError:
		if msg.ErrorMessage == "" {
			return nil, fmt.Errorf("error message missing error_message")
		}
	case "":
		return nil, fmt.Errorf("server message missing type")
	default:
		return nil, fmt.Errorf("unknown server message type: %q", msg.Type)
	}

	return &msg, nil
}

// Validate checks a session configuration against the audio contract before
// it is sent. The backend still has the final word on language support.
func (c SessionConfig) Validate() error {
	if c.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}
	if c.SampleRate != TargetSampleRate {
		return fmt.Errorf("sample_rate must be %d Hz, got %d", TargetSampleRate, c.SampleRate)
	}
	return nil
}

// String returns a human-readable representation of the message.
func (m *ServerMessage) String() string {
	switch m.Type {
	case TypeTranscriptionResult:
		return fmt.Sprintf("ServerMessage{Type:%s, Partial:%t, TranscriptLen:%d}",
			m.Type, m.Result.IsPartial, len(m.Result.Transcript))
	case TypeError:
		return fmt.Sprintf("ServerMessage{Type:%s, Error:%q}", m.Type, m.ErrorMessage)
	default:
		return fmt.Sprintf("ServerMessage{Type:%s, SessionID:%s}", m.Type, m.SessionID)
	}
}
