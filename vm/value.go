package vm

import "fmt"

// Value is anything a block or native function hands back to the VM.
type Value = any

// ---------------------------------------------------------------------------
// Exception references
// ---------------------------------------------------------------------------
//
// An ExceptionRef carries a marker byte in bits 24-31 and the registry ID in
// the low bits, so a stray integer is never mistaken for a live exception.
// Once assigned, marker values must never change.

const (
	exceptionMarker uint32 = 8 << 24

	// markerMask extracts the marker byte from a reference.
	markerMask uint32 = 0xFF << 24
)

// NoException is the zero reference. It never names a registered exception.
const NoException ExceptionRef = 0

// ExceptionRef is a borrowed handle to an exception owned by a VM. Holders
// never allocate or free the referenced object; they only tell the VM what
// to do with it.
type ExceptionRef uint32

// FromExceptionID creates an exception reference from a registry ID.
func FromExceptionID(id uint32) ExceptionRef {
	return ExceptionRef(id&^markerMask | exceptionMarker)
}

// IsValid reports whether the reference carries the exception marker and a
// non-zero ID.
func (r ExceptionRef) IsValid() bool {
	return uint32(r)&markerMask == exceptionMarker && r.ID() != 0
}

// ID returns the registry ID of the reference.
func (r ExceptionRef) ID() uint32 {
	return uint32(r) &^ markerMask
}

func (r ExceptionRef) String() string {
	if !r.IsValid() {
		return "exception#none"
	}
	return fmt.Sprintf("exception#%d", r.ID())
}
