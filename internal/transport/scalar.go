package transport

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Scalar keeps the raw text of a numeric field. Producers send valence and
// confidence as numbers, numeric strings or garbage; interpretation is left
// to the consumer so a bad value never fails the whole frame.
type Scalar struct {
	raw string
	set bool
}

// Float wraps a number.
func Float(v float64) Scalar {
	return Scalar{raw: strconv.FormatFloat(v, 'f', -1, 64), set: true}
}

// Text wraps an arbitrary string value.
func Text(raw string) Scalar {
	return Scalar{raw: raw, set: true}
}

// String returns the raw value, empty when absent.
func (s Scalar) String() string { return s.raw }

// IsSet reports whether the field was present and non-null.
func (s Scalar) IsSet() bool { return s.set }

func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = Scalar{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*s = Scalar{raw: text, set: true}
		return nil
	}
	*s = Scalar{raw: string(trimmed), set: true}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(s.raw, 64); err == nil && json.Valid([]byte(s.raw)) {
		return []byte(s.raw), nil
	}
	return json.Marshal(s.raw)
}
