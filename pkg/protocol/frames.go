package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Protocol version spoken over the gateway websocket. All frames are JSON text
// messages.
const Version = 3

// Frame type discriminators.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// ErrorShape is the structured failure payload carried by response frames and
// synthesized locally for transport failures.
type ErrorShape struct {
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	Retryable    *bool           `json:"retryable,omitempty"`
	RetryAfterMs *int64          `json:"retryAfterMs,omitempty"`
}

func (e *ErrorShape) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" && e.Message != "" {
		return e.Code + ": " + e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Message
}

// NewError builds an ErrorShape with just a code and message.
func NewError(code, message string) *ErrorShape {
	return &ErrorShape{Code: code, Message: message}
}

// RequestFrame is a client → gateway RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is a gateway → client RPC result, correlated by ID.
type ResponseFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// EventFrame is an unsolicited gateway → client push.
type EventFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     *uint64         `json:"seq,omitempty"`
}

// Frame is the decoded union of all frame types; exactly one of Response and
// Event is set depending on Type. Request frames are never received by a
// client and decode to an error.
type Frame struct {
	Type     string
	Response *ResponseFrame
	Event    *EventFrame
}

var ErrMalformedFrame = errors.New("malformed gateway frame")

// DecodeFrame parses a raw websocket text message into a typed frame. Unknown
// or client-bound frame types are rejected so the read loop can log and drop
// them without halting.
func DecodeFrame(data []byte) (Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	switch probe.Type {
	case FrameTypeResponse:
		var rf ResponseFrame
		if err := json.Unmarshal(data, &rf); err != nil {
			return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		if rf.ID == "" {
			return Frame{}, errors.Wrap(ErrMalformedFrame, "response frame without id")
		}
		return Frame{Type: probe.Type, Response: &rf}, nil
	case FrameTypeEvent:
		var ef EventFrame
		if err := json.Unmarshal(data, &ef); err != nil {
			return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		if ef.Event == "" {
			return Frame{}, errors.Wrap(ErrMalformedFrame, "event frame without topic")
		}
		return Frame{Type: probe.Type, Event: &ef}, nil
	default:
		return Frame{}, errors.Wrapf(ErrMalformedFrame, "unexpected frame type %q", probe.Type)
	}
}

// EncodeRequest marshals a request frame, forcing the type discriminator.
func EncodeRequest(id, method string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: params,
	})
}
