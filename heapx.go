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

// Package heapx implements a malloc-style allocator over a growable backing
// region: boundary-tagged blocks, 15 segregated LIFO free lists, immediate
// coalescing and a footer that is reused as payload while a block is
// allocated. Payloads are always 16-byte aligned.
//
// The allocator is not safe for concurrent use; callers needing that must
// serialize externally.
package heapx

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Memory is the backing region the allocator carves blocks from. It only
// ever grows; nothing is returned to it. mem.SimHeap and mem.MmapHeap
// implement it.
type Memory interface {
	// Sbrk extends the region by incr bytes and returns the old break,
	// which is the start of the newly usable range.
	Sbrk(incr int) (unsafe.Pointer, error)
	// Lo returns the first address of the region.
	Lo() unsafe.Pointer
	// Hi returns the address of the last byte below the break.
	Hi() unsafe.Pointer
	// Size returns the number of bytes between Lo and the break.
	Size() int
	// PageSize returns the page size of the backing memory.
	PageSize() int
}

// EnvVerify is the environment variable that makes New enable Options.Verify.
const EnvVerify = "HEAPX_VERIFY"

// Options configures an Allocator.
type Options struct {
	// Verify runs the heap checker after every mutating call and logs the
	// first violated invariant. The check walks the whole block chain and
	// every bucket, so this is for diagnosis only, never for production
	// traffic.
	Verify bool

	// Logger receives checker diagnostics. Defaults to the global zerolog
	// logger when nil.
	Logger *zerolog.Logger
}

// Allocator manages one contiguous heap as a chain of boundary-tagged
// blocks between an allocated zero-size prologue and epilogue. All state
// lives in the value, so independent allocators can coexist, each on its
// own Memory.
type Allocator struct {
	mem Memory

	// base is the prologue header, the fixed start of the block chain.
	base unsafe.Pointer

	// buckets holds the segregated free lists, one per size class.
	buckets [numBuckets]*listNode

	verify bool
	logger zerolog.Logger
}

// New creates an allocator on m and lays down the initial heap. Verify mode
// is taken from the HEAPX_VERIFY environment variable; the global zerolog
// logger receives diagnostics.
func New(m Memory) (*Allocator, error) {
	return NewWithOptions(m, Options{
		Verify: os.Getenv(EnvVerify) != "",
	})
}

// NewWithOptions creates an allocator on m with explicit options. It fails
// only when m cannot supply the initial few words of space.
func NewWithOptions(m Memory, opts Options) (*Allocator, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	a := &Allocator{
		mem:    m,
		verify: opts.Verify,
		logger: logger,
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

// init establishes the empty heap: an alignment pad, a zero-size allocated
// prologue (header and footer) and a zero-size allocated epilogue header
// sitting at the break. User blocks grow between the two sentinels.
func (a *Allocator) init() error {
	// The region base is not guaranteed to be aligned. Take the break one
	// byte at a time until it lands on a payload boundary.
	var start unsafe.Pointer
	for {
		p, err := a.mem.Sbrk(1)
		if err != nil {
			return fmt.Errorf("heapx: init: %w", err)
		}
		if uintptr(p)&(alignment-1) == 0 {
			start = p
			break
		}
	}

	// An 8-byte pad before the prologue header puts every payload on a
	// 16-byte boundary: pad + header = 16, and each following payload is
	// separated from the previous one by footer + header = 16.
	const pad = 8
	if _, err := a.mem.Sbrk(pad + headerSize + footerSize + headerSize - 1); err != nil {
		return fmt.Errorf("heapx: init: %w", err)
	}

	a.base = unsafe.Add(start, pad)
	for i := range a.buckets {
		a.buckets[i] = nil
	}

	storeTag(a.base, makeTag(0, false, false))
	storeTag(hdrFooter(a.base), makeTag(0, false, false))
	storeTag(hdrNext(a.base), makeTag(0, false, false))
	return nil
}

// adjustRequest converts a requested byte count into the payload size that
// must back it. The footer word becomes usable space once the block is
// allocated, so 8 of the requested bytes land there; the remainder is
// rounded up to the alignment and floored at the minimum payload.
func adjustRequest(size uintptr) uintptr {
	if size <= footerSize+minPayloadSize {
		return minPayloadSize
	}
	return alignUp(size - footerSize)
}

// Malloc returns a block of at least size bytes. The returned slice has
// len == size and cap equal to the block's full usable space; its address
// is 16-byte aligned. Returns nil when size <= 0 or when the backing region
// cannot grow any further.
func (a *Allocator) Malloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	p := a.malloc(uintptr(size))
	if p == nil {
		return nil
	}
	if a.verify {
		a.verifyHeap("malloc")
	}
	usable := loadTag(payloadHeader(p)).size() + footerSize
	return unsafe.Slice((*byte)(p), usable)[:size]
}

// malloc finds or manufactures a fit and carves it. At most one heap
// extension is attempted: a successful extension always produces a block
// able to back this request, so the retry cannot miss.
func (a *Allocator) malloc(size uintptr) unsafe.Pointer {
	for attempt := 0; attempt < 2; attempt++ {
		if h := a.findFit(size); h != nil {
			return a.carve(h, size)
		}
		if !a.extend(size) {
			break
		}
	}
	return nil
}

// carve marks the free block at h allocated and returns its payload. When
// the block exceeds the normalized request by at least a minimum block, the
// tail is split off as a new free block first; otherwise the whole block is
// kept and the excess becomes internal fragmentation.
func (a *Allocator) carve(h unsafe.Pointer, size uintptr) unsafe.Pointer {
	size = adjustRequest(size)

	if loadTag(h).size()-size >= minBlockSize {
		// The block changes size class, so it moves buckets. Its prev-free
		// flag is clear: a free block never follows another free block.
		a.listRemove(h)
		oldSize := loadTag(h).size()
		storeTag(h, makeTag(size, true, false))
		storeTag(hdrFooter(h), makeTag(size, true, false))
		a.listInsert(h)

		// The leftover becomes an independent free block.
		remainder := oldSize - size - (headerSize + footerSize)
		nh := hdrNext(h)
		storeTag(nh, makeTag(remainder, true, false))
		storeTag(hdrFooter(nh), makeTag(remainder, true, false))
		a.listInsert(nh)
	}

	a.listRemove(h)

	nh := hdrNext(h)
	storeTag(h, loadTag(h).withFree(false))
	storeTag(nh, loadTag(nh).withPrevFree(false))
	f := hdrFooter(h)
	storeTag(f, loadTag(f).withFree(false))

	return hdrPayload(h)
}

// Free returns a block to the allocator. b must be the slice returned by
// Malloc, Realloc or Calloc, not a reslice of it, and must not have been
// freed already; violating either corrupts the heap, exactly as with C
// free. A nil or empty slice is a no-op. Pointers outside the heap panic.
func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if !a.inHeap(p) {
		panic("heapx: pointer not in heap")
	}
	a.free(p)
	if a.verify {
		a.verifyHeap("free")
	}
}

// free marks the block owning payload p as free, restores the footer from
// the header (its bytes were payload tail while allocated), raises the next
// block's prev-free flag, inserts the block into its bucket and coalesces
// with both neighbours.
func (a *Allocator) free(p unsafe.Pointer) {
	h := payloadHeader(p)
	storeTag(h, loadTag(h).withFree(true))
	mirrorFooter(h)

	nh := hdrNext(h)
	storeTag(nh, loadTag(nh).withPrevFree(true))

	a.listInsert(h)
	a.coalesce(h)
}

// coalesce merges the block at h with whichever neighbours are free.
// Merging to the right is expressed as the next block merging left into h,
// then h itself merges left; after both, no free neighbour remains.
func (a *Allocator) coalesce(h unsafe.Pointer) {
	a.coalesceLeft(hdrNext(h))
	a.coalesceLeft(h)
}

// coalesceLeft absorbs the block at h into its predecessor iff both are
// free. Both blocks sit on bucket lists at this point; the merged block is
// rehomed by its new size.
func (a *Allocator) coalesceLeft(h unsafe.Pointer) {
	t := loadTag(h)
	if !t.free() || !t.prevFree() {
		return
	}
	ph := hdrPrev(h)
	a.listRemove(h)
	a.listRemove(ph)

	// The absorbed footprint is the whole of h's block: header, payload and
	// footer all become predecessor payload.
	merged := loadTag(ph).size() + headerSize + t.size() + footerSize
	prevPrevFree := loadTag(ph).prevFree()
	storeTag(ph, makeTag(merged, true, prevPrevFree))
	storeTag(hdrFooter(ph), makeTag(merged, true, prevPrevFree))
	a.listInsert(ph)
}

// extend grows the heap by one free block able to back a request of size
// bytes. The old epilogue header becomes the new block's header and a fresh
// epilogue is written at the new break. The new block is coalesced
// immediately: a free tail that was pinned against the old epilogue merges
// into it.
func (a *Allocator) extend(size uintptr) bool {
	size = adjustRequest(size)

	incr := size + footerSize + headerSize
	p, err := a.mem.Sbrk(int(incr))
	if err != nil {
		return false
	}

	// The old break sits right after the old epilogue header, so that
	// header is exactly one header-size before the new range.
	h := payloadHeader(p)
	prevFree := loadTag(h).prevFree()
	storeTag(h, makeTag(size, true, prevFree))
	storeTag(hdrFooter(h), makeTag(size, true, prevFree))

	// The block just added is free, so the new epilogue starts with its
	// prev-free flag raised.
	storeTag(hdrNext(h), makeTag(0, false, true))

	a.listInsert(h)
	a.coalesce(h)
	return true
}

// Realloc resizes a block. A nil b behaves as Malloc(size); size <= 0
// behaves as Free(b) and returns nil. Blocks never shrink: when the current
// usable space already covers size, the original block is returned with its
// length adjusted. Otherwise the contents move to a freshly allocated
// block; on allocation failure nil is returned and b stays valid.
func (a *Allocator) Realloc(b []byte, size int) []byte {
	if b == nil {
		return a.Malloc(size)
	}
	if size <= 0 {
		a.Free(b)
		return nil
	}

	p := unsafe.Pointer(unsafe.SliceData(b))
	h := payloadHeader(p)
	usable := loadTag(h).size() + footerSize
	if usable >= uintptr(size) {
		return unsafe.Slice((*byte)(p), usable)[:size]
	}

	nb := a.Malloc(size)
	if nb == nil {
		return nil
	}
	// The whole usable range moves, footer word included. This branch only
	// runs when size exceeds it, so the copy always fits.
	copy(nb[:usable], unsafe.Slice((*byte)(p), usable))
	a.Free(b)
	if a.verify {
		a.verifyHeap("realloc")
	}
	return nb
}

// Calloc allocates a zeroed block for n objects of size bytes each. The
// n*size product is not checked for overflow; callers own that guard.
func (a *Allocator) Calloc(n, size int) []byte {
	b := a.Malloc(n * size)
	if b == nil {
		return nil
	}
	clear(b)
	return b
}

// FreeBytes reports the total payload bytes currently sitting on the free
// lists. Walks every bucket; diagnostic use only.
func (a *Allocator) FreeBytes() int {
	total := 0
	for i := range a.buckets {
		for node := a.buckets[i]; node != nil; node = node.next {
			total += int(loadTag(nodeHeader(node)).size())
		}
	}
	return total
}

// inHeap reports whether p lies inside the backing region's mapped range.
func (a *Allocator) inHeap(p unsafe.Pointer) bool {
	return uintptr(p) >= uintptr(a.mem.Lo()) && uintptr(p) <= uintptr(a.mem.Hi())
}

func (a *Allocator) verifyHeap(op string) {
	if err := a.checkHeap(); err != nil {
		a.logger.Error().Str("op", op).Err(err).Msg("heapx: heap check failed")
	}
}
