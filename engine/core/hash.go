package core

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// StringID is a compact 32-bit identifier derived from a string. Used for asset ids
// (virtual filenames) and resource loader type ids (file extensions).
type StringID uint32

// NewStringID hashes s. The hash is case sensitive, see NewStringIDFold.
func NewStringID(s string) StringID {
	return StringID(uint32(xxhash.Sum64String(s)))
}

// NewStringIDFold hashes the lower-cased s.
func NewStringIDFold(s string) StringID {
	return NewStringID(strings.ToLower(s))
}
