package frame

import "fmt"

// Fingerprint is a comparable, stable identity for a stack frame across
// separate thread stops. FrameAddress is the stack pointer value immediately
// before the call that created the frame; stacks grow toward lower addresses,
// so a larger address identifies an older frame. InlineCount disambiguates
// multiple inline calls sharing one physical frame: a higher count is a
// deeper (newer) inline frame.
type Fingerprint struct {
	// FrameAddress is the canonical frame address of the owning physical
	// frame. Zero means the fingerprint is invalid.
	FrameAddress uint64

	// InlineCount is the distance from the owning physical frame: 0 for the
	// physical frame itself, 1 for the outermost inline frame inside it, and
	// so on inward.
	InlineCount int
}

// Valid reports whether the fingerprint identifies a real frame.
func (f Fingerprint) Valid() bool {
	return f.FrameAddress != 0
}

// Equal reports whether two fingerprints identify the same frame.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.FrameAddress == other.FrameAddress && f.InlineCount == other.InlineCount
}

// Newer reports whether f identifies a strictly younger (deeper) frame than
// other. Frames in different physical frames compare by address: smaller is
// newer. Frames sharing a physical frame compare by inline depth: a higher
// inline count is newer. Equal fingerprints are neither newer nor older.
func (f Fingerprint) Newer(other Fingerprint) bool {
	if f.FrameAddress != other.FrameAddress {
		return f.FrameAddress < other.FrameAddress
	}
	return f.InlineCount > other.InlineCount
}

// NewerOrEqual reports whether f is the same frame as other or a strictly
// newer one.
func (f Fingerprint) NewerOrEqual(other Fingerprint) bool {
	return f.Equal(other) || f.Newer(other)
}

// Older reports whether f identifies a strictly older (shallower) frame than
// other.
func (f Fingerprint) Older(other Fingerprint) bool {
	return !f.Equal(other) && !f.Newer(other)
}

// String returns a formatted fingerprint like "{0x5000,1}".
func (f Fingerprint) String() string {
	return fmt.Sprintf("{%#x,%d}", f.FrameAddress, f.InlineCount)
}
