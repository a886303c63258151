// Package requestid generates identifiers for requests that arrive without
// one.
package requestid

import "github.com/google/uuid"

// New returns a fresh request identifier.
func New() string {
	return uuid.NewString()
}
