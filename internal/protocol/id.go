// Package protocol defines the JSON wire format spoken with the chat server.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a server-assigned identifier. The server sends integers, the client
// keys its state by string, so ID accepts either form when decoding and
// writes purely numeric values back as JSON numbers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Int returns the numeric value of the id, if it has one.
func (id ID) Int() (int64, bool) {
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsZero reports whether the id is empty or the numeric zero the server uses
// for "no channel".
func (id ID) IsZero() bool {
	if id == "" {
		return true
	}
	n, ok := id.Int()
	return ok && n == 0
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}
