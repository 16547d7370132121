// Package protocol defines the envelopes exchanged over a book stream and the
// codecs that put them on the wire.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Action selects the operation carried by an envelope.
type Action int32

// Actions. The numeric values are part of the binary wire format.
const (
	ActionUnknown   Action = 0
	ActionList      Action = 1
	ActionGet       Action = 2
	ActionCreate    Action = 3
	ActionUpdate    Action = 4
	ActionDelete    Action = 5
	ActionSubscribe Action = 6
)

var actionNames = map[Action]string{
	ActionUnknown:   "UNKNOWN",
	ActionList:      "LIST",
	ActionGet:       "GET",
	ActionCreate:    "CREATE",
	ActionUpdate:    "UPDATE",
	ActionDelete:    "DELETE",
	ActionSubscribe: "SUBSCRIBE",
}

// ParseAction maps a wire name onto an Action. Unrecognized names yield
// ActionUnknown, never an error.
func ParseAction(name string) Action {
	for a, n := range actionNames {
		if n == name {
			return a
		}
	}
	return ActionUnknown
}

// ActionFromNumber maps a wire number onto an Action, defaulting to ActionUnknown.
func ActionFromNumber(n int64) Action {
	if _, ok := actionNames[Action(n)]; ok {
		return Action(n)
	}
	return ActionUnknown
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return actionNames[ActionUnknown]
}

// MarshalJSON encodes the action by name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either the name or the number.
func (a *Action) UnmarshalJSON(data []byte) error {
	name, num, err := decodeEnum(data)
	if err != nil {
		return err
	}
	if name != "" {
		*a = ParseAction(name)
	} else {
		*a = ActionFromNumber(num)
	}
	return nil
}

// Status is the outcome reported by a response.
type Status int32

// Statuses. The numeric values are part of the binary wire format.
const (
	StatusSuccess      Status = 0
	StatusError        Status = 1
	StatusNotFound     Status = 2
	StatusInvalidInput Status = 3
)

var statusNames = map[Status]string{
	StatusSuccess:      "SUCCESS",
	StatusError:        "ERROR",
	StatusNotFound:     "NOT_FOUND",
	StatusInvalidInput: "INVALID_INPUT",
}

// ParseStatus maps a wire name onto a Status. Unrecognized names yield StatusError.
func ParseStatus(name string) Status {
	for s, n := range statusNames {
		if n == name {
			return s
		}
	}
	return StatusError
}

// StatusFromNumber maps a wire number onto a Status, defaulting to StatusError.
func StatusFromNumber(n int64) Status {
	if _, ok := statusNames[Status(n)]; ok {
		return Status(n)
	}
	return StatusError
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return statusNames[StatusError]
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the name or the number.
func (s *Status) UnmarshalJSON(data []byte) error {
	name, num, err := decodeEnum(data)
	if err != nil {
		return err
	}
	if name != "" {
		*s = ParseStatus(name)
	} else {
		*s = StatusFromNumber(num)
	}
	return nil
}

// decodeEnum reads a JSON string or number. A string that is empty, or any
// other JSON type, decodes as number 0.
func decodeEnum(data []byte) (string, int64, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return "", 0, err
		}
		if n, err := strconv.ParseInt(name, 10, 32); err == nil {
			return "", n, nil
		}
		if name == "" {
			return "", 0, nil
		}
		return name, 0, nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return "", 0, nil
	}
	return "", n, nil
}
