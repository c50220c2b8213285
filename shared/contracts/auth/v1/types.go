package v1

import (
	"bytes"
	"encoding/json"
	"math"
)

// LoginData is the payload of a login request.
type LoginData struct {
	Username LooseString `json:"username"`
	Password LooseString `json:"password"`
}

// RegisterData is the payload of a register request.
type RegisterData struct {
	Username LooseString `json:"username"`
	Password LooseString `json:"password"`
	Identity LooseString `json:"identity"`
	Gender   LooseString `json:"gender"`
	Age      LooseInt    `json:"age"`
	Phone    LooseString `json:"phone"`
}

// LooseString decodes any JSON value; non-strings decode to "".
// A wrong-typed field then fails validation instead of failing the whole frame.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		*s = ""
		return nil
	}
	*s = LooseString(v)
	return nil
}

// String returns the decoded value.
func (s LooseString) String() string { return string(s) }

// LooseInt decodes integral JSON numbers; anything else decodes to 0.
type LooseInt int

// UnmarshalJSON implements json.Unmarshaler.
func (n *LooseInt) UnmarshalJSON(b []byte) error {
	*n = 0

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	*n = LooseInt(f)
	return nil
}

// Int returns the decoded value.
func (n LooseInt) Int() int { return int(n) }
