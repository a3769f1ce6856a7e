package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ContactID keeps a contact identifier exactly as the caller sent it, either
// a JSON string or a JSON number, so outcomes echo the same value back.
type ContactID json.RawMessage

// StringContactID builds a string-typed id.
func StringContactID(s string) ContactID {
	b, _ := json.Marshal(s)
	return ContactID(b)
}

// NumberContactID builds a number-typed id.
func NumberContactID(n int64) ContactID {
	return ContactID(strconv.FormatInt(n, 10))
}

func (c ContactID) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

func (c *ContactID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("empty contact id")
	}
	switch b[0] {
	case '{', '[', 't', 'f':
		return errors.New("contact id must be a string or a number")
	}
	*c = append((*c)[:0], b...)
	return nil
}

// IsZero reports whether the id is absent, null or an empty string.
func (c ContactID) IsZero() bool {
	s := string(c)
	return s == "" || s == "null" || s == `""`
}

func (c ContactID) String() string {
	var s string
	if err := json.Unmarshal(c, &s); err == nil {
		return s
	}
	return string(c)
}
