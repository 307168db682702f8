package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidMessage = errors.New("invalid message")

// Frames put the discriminant next to the variant's fields on the wire:
// {"type":"join","id":"...","name":"..."}.
type joinFrame struct {
	Type Type `json:"type"`
	Join
}

type leaveFrame struct {
	Type Type `json:"type"`
	Leave
}

type stateUpdateFrame struct {
	Type Type `json:"type"`
	StateUpdate
}

type hostLeftFrame struct {
	Type Type `json:"type"`
}

// Encode validates m and renders it as a JSON frame.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := Validate(m); err != nil {
		return nil, err
	}

	var frame any
	switch msg := m.(type) {
	case Join:
		frame = joinFrame{Type: TypeJoin, Join: msg}
	case Leave:
		frame = leaveFrame{Type: TypeLeave, Leave: msg}
	case StateUpdate:
		frame = stateUpdateFrame{Type: TypeStateUpdate, StateUpdate: msg}
	case HostLeft:
		frame = hostLeftFrame{Type: TypeHostLeft}
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidMessage, m)
	}
	return json.Marshal(frame)
}

// Decode parses a frame and validates it. Any failure is reported as
// ErrInvalidMessage and no partial message is returned.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var m Message
	switch envelope.Type {
	case TypeJoin:
		var f joinFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		m = f.Join
	case TypeLeave:
		var f leaveFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		m = f.Leave
	case TypeStateUpdate:
		var f stateUpdateFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		m = f.StateUpdate
	case TypeHostLeft:
		var f hostLeftFrame
		if err := strictUnmarshal(data, &f); err != nil {
			return nil, err
		}
		m = HostLeft{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, envelope.Type)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidMessage)
	}
	return nil
}
