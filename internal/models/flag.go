package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Flag is a boolean that also accepts the 0/1 integers the server emits for check fields.
type Flag bool

// UnmarshalJSON accepts true/false, 0/1 and their quoted forms.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	switch string(data) {
	case "", "null", "0", "false":
		*f = false
		return nil
	case "1", "true":
		*f = true
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = n != 0
	return nil
}

// MarshalJSON writes the flag as a plain boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}
