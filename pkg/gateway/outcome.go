package gateway

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// Outcome is the result of an RPC call. The call surface never panics and
// never returns a bare Go error to its caller: transport loss, protocol
// rejection, and application failures all arrive as a structured failure
// outcome so view code can render them inline.
type Outcome struct {
	OK      bool
	Payload json.RawMessage
	Err     *protocol.ErrorShape
}

// Success wraps a payload in an ok outcome.
func Success(payload json.RawMessage) Outcome {
	return Outcome{OK: true, Payload: payload}
}

// Failure builds a failed outcome from a code and message.
func Failure(code, message string) Outcome {
	return Outcome{Err: protocol.NewError(code, message)}
}

// FailureShape builds a failed outcome from a server-provided error shape.
func FailureShape(shape *protocol.ErrorShape) Outcome {
	if shape == nil {
		shape = protocol.NewError(protocol.ErrCodeUnavailable, "unknown failure")
	}
	return Outcome{Err: shape}
}

// Decode unmarshals a successful payload into v. On a failed outcome it
// returns the carried error shape.
func (o Outcome) Decode(v any) error {
	if !o.OK {
		if o.Err != nil {
			return o.Err
		}
		return errors.New("call failed")
	}
	if len(o.Payload) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(o.Payload, v), "decoding call payload")
}
