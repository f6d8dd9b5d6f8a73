package collab

import (
	"errors"
	"fmt"
)

// ConflictPolicy decides what happens when two clients write the same document.
type ConflictPolicy int

const (
	// LastWriterWins replaces the stored document unconditionally; a concurrent
	// earlier write is silently lost.
	LastWriterWins ConflictPolicy = iota
	// VersionChecked writes only if the document is still at the version the
	// mutation started from, and reports ErrConflict otherwise.
	VersionChecked
)

var (
	ErrConflict      = errors.New("collab: document changed concurrently")
	ErrUnknownPolicy = errors.New("collab: unknown conflict policy")
	// ErrSkip, returned by a mutation function, ends Mutate without a write and
	// without an error.
	ErrSkip = errors.New("collab: nothing to write")
)

func (p ConflictPolicy) String() string {
	switch p {
	case LastWriterWins:
		return "lww"
	case VersionChecked:
		return "version"
	}
	return "unknown"
}

// PolicyByName maps "lww" (or "") and "version" to a policy.
func PolicyByName(name string) (ConflictPolicy, error) {
	switch name {
	case "", "lww":
		return LastWriterWins, nil
	case "version":
		return VersionChecked, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
