// Package protocol implements the newline-delimited JSON message envelope
// exchanged between clients and the game server.
//
// Requests arrive as `{"action": <string>, "data": {...}}`. Responses are
// written flat, with the payload fields alongside the action tag
// (`{"action":"login_failed","reason":"Invalid password"}`). Decode accepts
// both shapes and normalises them into an Envelope.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Delimiter terminates every frame on the wire. json.Marshal escapes newlines
// inside string values, so an encoded envelope is always exactly one line.
const Delimiter = '\n'

// Envelope is one decoded wire message: an action tag plus a payload mapping.
// An Envelope has no identity beyond a single decode/dispatch cycle.
type Envelope struct {
	// Action is the message tag. Empty for tagless bodies such as
	// {"status":"error",...} responses.
	Action string
	// Data holds the payload fields. Never nil after a successful Decode.
	Data map[string]any
}

// EncodeError reports an envelope that cannot be serialised.
type EncodeError struct {
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("encoding envelope: %s", e.Reason)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a frame that is not a valid envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decoding frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serialises an envelope into a single newline-terminated JSON frame.
// The action is written under "action" and the data fields are inlined at the
// top level. An envelope with no action and no data, or whose data collides
// with the "action" key, fails with *EncodeError.
//
// Postcondition: the returned bytes contain exactly one Delimiter, at the end.
func Encode(env Envelope) ([]byte, error) {
	if env.Action == "" && len(env.Data) == 0 {
		return nil, &EncodeError{Reason: "empty envelope"}
	}

	body := make(map[string]any, len(env.Data)+1)
	for k, v := range env.Data {
		// "action" and "data" are framing keys; a payload using them would
		// not survive a decode.
		if k == "action" || k == "data" {
			return nil, &EncodeError{Reason: fmt.Sprintf("data must not contain a %q key", k)}
		}
		body[k] = v
	}
	if env.Action != "" {
		body["action"] = env.Action
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &EncodeError{Reason: "payload is not serialisable", Err: err}
	}
	return append(raw, Delimiter), nil
}

// Decode parses one frame into an Envelope. It is total over arbitrary input:
// any malformed frame yields a *DecodeError, never a panic. The trailing
// delimiter, if present, is ignored.
//
// Both the nested request shape ({"action":..,"data":{..}}) and the flat
// response shape are accepted; remaining top-level keys are merged into Data.
func Decode(frame []byte) (Envelope, error) {
	frame = bytes.TrimRight(frame, "\r\n")

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, &DecodeError{Reason: "frame is not a JSON object", Err: err}
	}

	env := Envelope{Data: make(map[string]any)}

	if tag, ok := raw["action"]; ok {
		if err := json.Unmarshal(tag, &env.Action); err != nil {
			return Envelope{}, &DecodeError{Reason: `"action" is not a string`, Err: err}
		}
		delete(raw, "action")
	}

	if nested, ok := raw["data"]; ok {
		var data map[string]any
		if err := json.Unmarshal(nested, &data); err != nil {
			return Envelope{}, &DecodeError{Reason: `"data" is not an object`, Err: err}
		}
		for k, v := range data {
			env.Data[k] = v
		}
		delete(raw, "data")
	}

	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return Envelope{}, &DecodeError{Reason: fmt.Sprintf("field %q is not valid JSON", k), Err: err}
		}
		env.Data[k] = val
	}

	return env, nil
}
