package sequencer

import (
	"encoding/json"
	"fmt"
	"time"

	"benchqc/internal/domain"
)

// EncodeCommand serializes a test command into its wire form:
// a flat JSON object {"command": <id>, ...payload}. Payload keys are
// carried verbatim; a payload key named "command" would shadow the opcode
// and is rejected by catalog validation upstream, not here.
func EncodeCommand(commandID string, payload map[string]any) ([]byte, error) {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["command"] = commandID
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", commandID, err)
	}
	return data, nil
}

// DecodedEvent is one inbound notification: the decoded payload plus its
// arrival timestamp. Err is set when the raw bytes were not decodable; such
// events are logged and never count as a response.
type DecodedEvent struct {
	Payload    map[string]any
	Raw        []byte
	ReceivedAt time.Time
	Err        error
}

// DecodeEvent parses a raw notification. A JSON object becomes the payload
// map; any other valid JSON value (the firmware sometimes sends a bare
// status string) is wrapped under "value". Undecodable bytes yield an event
// with Err set — a decode problem is a warning, never a run-stopping error.
func DecodeEvent(raw []byte, at time.Time) DecodedEvent {
	ev := DecodedEvent{Raw: append([]byte{}, raw...), ReceivedAt: at}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		ev.Payload = payload
		return ev
	}

	var value any
	if err := json.Unmarshal(raw, &value); err == nil {
		ev.Payload = map[string]any{"value": value}
		return ev
	}

	ev.Err = domain.NewDomainError("DecodeEvent", domain.ErrDecode, fmt.Sprintf("%d undecodable bytes", len(raw)))
	return ev
}
