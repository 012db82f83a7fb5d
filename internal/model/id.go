package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string, used for session tokens.
func NewID() string {
	return ulid.Make().String()
}
