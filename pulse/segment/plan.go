// Package segment partitions the whole workload into segments and runs each
// one as an isolated worker process.
//
// Segments run in waves of at most MaxConcurrent workers. A wave is awaited as
// a whole and waves are separated by a short pause. A worker that exits
// non-zero is logged as a failed segment; the other segments and later waves
// carry on. Segments are derived from the unit count on every run and are
// never stored, though runs may be recorded in a Store.
package segment

import "fmt"

// DefaultSize is the number of units per segment
const DefaultSize = 30

// Descriptor is a (start, size) slice of the unit listing
type Descriptor struct {
	Start int
	Size  int
}

// Number is the 1-based position of the segment in its plan
func (d Descriptor) Number() int {
	if d.Size <= 0 {
		return 1
	}
	return d.Start/d.Size + 1
}

// End is the exclusive end offset
func (d Descriptor) End() int {
	return d.Start + d.Size
}

func (d Descriptor) String() string {
	return fmt.Sprintf("segment %d [%d, %d)", d.Number(), d.Start, d.End())
}

// Plan cuts total units into segments of size, starting at 0. The last
// segment keeps the full size; workers clamp to the listing.
func Plan(total, size int) []Descriptor {
	if size <= 0 {
		size = DefaultSize
	}
	var plan []Descriptor
	for start := 0; start < total; start += size {
		plan = append(plan, Descriptor{Start: start, Size: size})
	}
	return plan
}
