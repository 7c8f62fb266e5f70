// Package reassembler merges out-of-order, possibly overlapping
// substrings into a contiguous prefix of a bytestream.ByteStream.
//
// Pending substrings are kept in a google/btree ordered map keyed by
// first index rather than the C++ original's std::list, per
// the "ordered map from index to extent gives O(log n) merge" note:
// finding the one extent a new insertion might touch is a tree lookup,
// not a linear scan.
package reassembler

import (
	"tcpipstack/bytestream"

	"github.com/google/btree"
)

// extent is one stored pending substring.
type extent struct {
	first  uint64
	data   []byte
	isLast bool
}

func (e *extent) end() uint64 { return e.first + uint64(len(e.data)) }

func less(a, b *extent) bool { return a.first < b.first }

// Reassembler adapts indexed insert() calls into sequential writes on
// an owned ByteStream.
type Reassembler struct {
	output  *bytestream.ByteStream
	pending *btree.BTreeG[*extent]
	bytesPending uint64
}

// New constructs a Reassembler that exclusively owns output.
func New(output *bytestream.ByteStream) *Reassembler {
	return &Reassembler{
		output:  output,
		pending: btree.NewG(32, less),
	}
}

// Output returns the ByteStream the Reassembler writes into.
func (r *Reassembler) Output() *bytestream.ByteStream { return r.output }

// BytesPending returns the total number of bytes currently stored
// (not yet written to the output stream) inside the Reassembler.
func (r *Reassembler) BytesPending() uint64 { return r.bytesPending }

// Insert merges a substring, starting at the stream index first, into
// the reassembled byte stream, writing as much of the contiguous
// prefix as is now known to the output ByteStream.
func (r *Reassembler) Insert(first uint64, data []byte, isLast bool) {
	u := r.output.BytesPushed()
	avail := r.output.AvailableCapacity()
	firstUnacceptable := u + avail

	// Trim the substring to the acceptance window [u, u+avail).
	if first < u {
		drop := u - first
		if drop >= uint64(len(data)) {
			data = nil
		} else {
			data = data[drop:]
		}
		first = u
	}
	if first+uint64(len(data)) > firstUnacceptable {
		if first >= firstUnacceptable {
			data = nil
		} else {
			data = data[:firstUnacceptable-first]
		}
		isLast = false
	}

	if len(data) == 0 {
		if isLast && first == u {
			r.output.Close()
		}
		return
	}

	r.insertMerge(first, data, isLast)
	r.flushReady(u)
}

// insertMerge coalesces the trimmed substring with any pending extent
// it overlaps or touches, replacing them with a single merged extent.
func (r *Reassembler) insertMerge(first uint64, data []byte, isLast bool) {
	end := first + uint64(len(data))

	// At most one stored extent can reach into [first, end) from the
	// left, since stored extents are pairwise disjoint and non-adjacent.
	scanStart := first
	r.pending.DescendLessOrEqual(&extent{first: first}, func(item *extent) bool {
		if item.end() >= first {
			scanStart = item.first
		}
		return false
	})

	var toDelete []*extent
	mergedFirst, mergedEnd := first, end
	mergedIsLast := isLast
	r.pending.AscendRange(&extent{first: scanStart}, &extent{first: end + 1}, func(item *extent) bool {
		toDelete = append(toDelete, item)
		if item.first < mergedFirst {
			mergedFirst = item.first
		}
		if item.end() > mergedEnd {
			mergedEnd = item.end()
		}
		mergedIsLast = mergedIsLast || item.isLast
		return true
	})

	merged := make([]byte, mergedEnd-mergedFirst)
	for _, old := range toDelete {
		copy(merged[old.first-mergedFirst:], old.data)
		r.pending.Delete(old)
		r.bytesPending -= uint64(len(old.data))
	}
	copy(merged[first-mergedFirst:], data)

	e := &extent{first: mergedFirst, data: merged, isLast: mergedIsLast}
	r.pending.ReplaceOrInsert(e)
	r.bytesPending += uint64(len(merged))
}

// flushReady pushes the pending extent starting at u (if any) into the
// output stream, then closes it if that extent carried is_last.
func (r *Reassembler) flushReady(u uint64) {
	min, ok := r.pending.Min()
	if !ok || min.first != u {
		return
	}
	r.pending.DeleteMin()
	r.bytesPending -= uint64(len(min.data))
	r.output.Push(min.data)
	if min.isLast {
		r.output.Close()
	}
}
