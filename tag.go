/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package heapx

const (
	// headerSize is the size of the boundary-tag word before each payload.
	headerSize = 8

	// footerSize is the size of the boundary-tag word after each payload.
	// While a block is allocated these bytes are handed to the user as the
	// tail of the usable space; the footer is only meaningful while free.
	footerSize = 8

	// alignment is the payload alignment. Payload sizes are always a
	// multiple of it, which keeps the low four bits of every tag free for
	// flags.
	alignment = 16

	// minPayloadSize is the smallest payload: a free block overlays the two
	// list pointers of its bucket node on the first payload bytes.
	minPayloadSize = 16

	// minBlockSize is header + minPayloadSize + footer. A free block below
	// this cannot exist, which bounds how far a block may be split.
	minBlockSize = headerSize + minPayloadSize + footerSize
)

const (
	tagFree     tag = 1 << 0 // the block is free
	tagPrevFree tag = 1 << 1 // the preceding block is free

	tagFlagMask = tagFree | tagPrevFree
)

// tag is one boundary-tag word: the payload size in the high bits, the free
// and prev-free flags in bits 0 and 1. The header and the footer of a block
// each hold one tag. The prev-free flag mirrors the preceding block's free
// bit so that coalescing never has to read a footer that may have been
// overwritten by user data.
type tag uintptr

// makeTag packs a tag. size must be a multiple of the payload alignment.
func makeTag(size uintptr, free, prevFree bool) tag {
	if size&(alignment-1) != 0 {
		panic("heapx: tag size not a multiple of the alignment")
	}
	t := tag(size)
	if free {
		t |= tagFree
	}
	if prevFree {
		t |= tagPrevFree
	}
	return t
}

func (t tag) size() uintptr  { return uintptr(t &^ tagFlagMask) }
func (t tag) free() bool     { return t&tagFree != 0 }
func (t tag) prevFree() bool { return t&tagPrevFree != 0 }

// withFree returns t with the free flag replaced and the other fields
// intact. The whole word is rebuilt so no partial bit write can leak into
// the size or the prev-free flag.
func (t tag) withFree(free bool) tag {
	return makeTag(t.size(), free, t.prevFree())
}

// withPrevFree returns t with the prev-free flag replaced and the other
// fields intact.
func (t tag) withPrevFree(prevFree bool) tag {
	return makeTag(t.size(), t.free(), prevFree)
}
