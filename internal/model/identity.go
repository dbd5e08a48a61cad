package model

import (
	"fmt"
	"unicode/utf8"
)

// MaxIdentityLength bounds identities so conversation index keys stay small.
const MaxIdentityLength = 128

// ValidateIdentity checks an opaque identity reference received from a client.
// Every transport and the store use it, so a value accepted anywhere is
// accepted everywhere.
func ValidateIdentity(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	case len(id) > MaxIdentityLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentity, MaxIdentityLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidIdentity)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: contains control characters", ErrInvalidIdentity)
		}
	}
	return nil
}
