// Package wire implements the client frame format.
//
// Every frame exchanged with a client is a JSON array whose first element
// is the event name and whose remaining elements are the event arguments:
//
//	["clientUpdated", "desktop 2", "views", [...]]
//
// Decoding leaves the arguments as raw JSON so the dispatcher can bind
// each one to the concrete type its handler expects.
package wire

import (
	"encoding/json"
	"fmt"
)

// Frame is a decoded client message.
type Frame struct {
	// Event selects the handler on the receiving side.
	Event string

	// Args are the undecoded event arguments.
	Args []json.RawMessage
}

// Encode serializes an event and its arguments into a frame.
func Encode(event string, args ...any) ([]byte, error) {
	parts := make([]any, 0, len(args)+1)
	parts = append(parts, event)
	parts = append(parts, args...)
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", event, err)
	}
	return data, nil
}

// Decode parses a frame. It fails on anything that is not a JSON array
// with a leading string element.
func Decode(data []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("frame is empty")
	}
	var event string
	if err := json.Unmarshal(parts[0], &event); err != nil {
		return nil, fmt.Errorf("frame event name is not a string: %w", err)
	}
	return &Frame{Event: event, Args: parts[1:]}, nil
}

// Arg decodes the i-th argument of the frame into v.
func (f *Frame) Arg(i int, v any) error {
	if i >= len(f.Args) {
		return fmt.Errorf("%s frame has no argument %d", f.Event, i)
	}
	if err := json.Unmarshal(f.Args[i], v); err != nil {
		return fmt.Errorf("invalid argument %d in %s frame: %w", i, f.Event, err)
	}
	return nil
}
