// Package uid generates globally-unique identifiers for documents, runs,
// and devices.
package uid

import "github.com/google/uuid"

// New returns a fresh UUIDv4 string suitable as a document or run UID.
func New() string {
	return uuid.NewString()
}
