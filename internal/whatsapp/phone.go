package whatsapp

import (
	"errors"
	"strings"

	"golang.org/x/text/width"
)

// AddressSuffix is the user server of outbound addresses.
const AddressSuffix = "@c.us"

var ErrInvalidPhone = errors.New("phone number has no digits")

// FormatAddress strips every non-digit from phone and appends the user server.
// Full-width digits are folded to ASCII first.
func FormatAddress(phone string) (string, error) {
	digits := Digits(phone)
	if digits == "" {
		return "", ErrInvalidPhone
	}
	return digits + AddressSuffix, nil
}

// Digits returns the ASCII digits of s in order.
func Digits(s string) string {
	s = width.Narrow.String(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
