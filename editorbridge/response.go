package editorbridge

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Response is the listener's envelope: {success, error?, ...fields}.
// Only Success is guaranteed; every other field is optional and read
// through the typed accessors, which report ok=false on absence or a
// type mismatch.
type Response struct {
	Success bool
	Error   string
	Fields  map[string]json.RawMessage

	command string
}

// UnmarshalJSON requires a boolean "success" member.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	succ, ok := raw["success"]
	if !ok {
		return fmt.Errorf("%w: missing success", ErrMalformedResponse)
	}
	if err := json.Unmarshal(succ, &r.Success); err != nil {
		return fmt.Errorf("%w: success is not a boolean", ErrMalformedResponse)
	}
	delete(raw, "success")

	r.Error = ""
	if e, ok := raw["error"]; ok {
		var msg string
		if json.Unmarshal(e, &msg) == nil {
			r.Error = msg
			delete(raw, "error")
		}
	}
	r.Fields = raw
	return nil
}

// MarshalJSON re-emits the envelope with fields in key order.
func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = json.RawMessage(fmt.Sprintf("%t", r.Success))
	if r.Error != "" {
		b, err := json.Marshal(r.Error)
		if err != nil {
			return nil, err
		}
		out["error"] = b
	}
	return json.Marshal(out)
}

// Err converts a remote failure into a *RemoteError. It returns nil when
// the command succeeded.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "unknown error"
	}
	return &RemoteError{Command: r.command, Message: msg}
}

// Command returns the type of the command that produced the response.
func (r *Response) Command() string { return r.command }

// Raw returns the undecoded field.
func (r *Response) Raw(key string) (json.RawMessage, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Decode unmarshals a field into dst.
func (r *Response) Decode(key string, dst any) bool {
	v, ok := r.Fields[key]
	if !ok {
		return false
	}
	return json.Unmarshal(v, dst) == nil
}

func (r *Response) String(key string) (string, bool) {
	var s string
	ok := r.Decode(key, &s)
	return s, ok
}

func (r *Response) Float(key string) (float64, bool) {
	var f float64
	ok := r.Decode(key, &f)
	return f, ok
}

func (r *Response) Bool(key string) (bool, bool) {
	var b bool
	ok := r.Decode(key, &b)
	return b, ok
}

// Keys lists the result fields in sorted order.
func (r *Response) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ListenerStatus is the body of the listener's GET / probe.
type ListenerStatus struct {
	Status            string   `json:"status"`
	Service           string   `json:"service,omitempty"`
	Version           string   `json:"version,omitempty"`
	Project           string   `json:"project,omitempty"`
	EngineVersion     string   `json:"engine_version,omitempty"`
	Ready             bool     `json:"ready"`
	AvailableCommands []string `json:"available_commands,omitempty"`
}
