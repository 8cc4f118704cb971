package history

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Bytes is an arbitrary byte sequence, serialized on the wire as a JSON
// array of integers 0-255 (the workload's native representation) rather
// than the standard library's default base64 encoding of []byte.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range b {
		if i != 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", v)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var ints []byte
	// Decode through []int first so we can reject out-of-range bytes
	// with a clear error instead of silently truncating.
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding byte sequence: %w", err)
	}
	ints = make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte sequence element %d out of range 0-255: %d", i, v)
		}
		ints[i] = byte(v)
	}
	*b = ints
	return nil
}
