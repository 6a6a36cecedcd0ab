// Package idgen generates the opaque identifiers used across every table:
// stable, collision-free, treated as a <=32-character token.
package idgen

import "github.com/google/uuid"

// New returns a 32-character lowercase hex token (a UUIDv4 with the
// separators stripped).
func New() string {
	id := uuid.New()
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(id)*2)
	for i, v := range id {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
