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

// Package mem provides growable backing regions for the heapx allocator.
// A region simulates the classic process break: it is reserved once at full
// capacity, Sbrk moves the break forward inside it, and nothing is ever
// returned. Block addresses therefore stay stable for the region's
// lifetime.
package mem

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// DefaultMaxHeap is the default reservation size.
const DefaultMaxHeap = 20 * 1024 * 1024

// ErrOutOfMemory is returned by Sbrk when the reservation is exhausted.
var ErrOutOfMemory = errors.New("mem: out of memory")

// region implements the break protocol over a fixed-capacity byte slice.
type region struct {
	buf []byte
	brk int
}

// Sbrk advances the break by incr bytes and returns the old break.
func (r *region) Sbrk(incr int) (unsafe.Pointer, error) {
	if incr <= 0 {
		return nil, fmt.Errorf("mem: invalid break increment %d", incr)
	}
	if r.brk+incr > len(r.buf) {
		return nil, ErrOutOfMemory
	}
	old := r.brk
	r.brk += incr
	return unsafe.Add(r.base(), old), nil
}

// Lo returns the first address of the region.
func (r *region) Lo() unsafe.Pointer { return r.base() }

// Hi returns the address of the last byte below the break.
func (r *region) Hi() unsafe.Pointer { return unsafe.Add(r.base(), r.brk-1) }

// Size returns the number of bytes between Lo and the break.
func (r *region) Size() int { return r.brk }

func (r *region) base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(r.buf))
}

// SimHeap simulates a heap inside a Go byte slice. The slice is allocated
// once at full capacity and not zeroed, matching what a real break
// extension hands out.
type SimHeap struct {
	region
}

// NewSimHeap reserves a simulated heap of max bytes.
func NewSimHeap(max int) (*SimHeap, error) {
	if max <= 0 {
		return nil, fmt.Errorf("mem: reservation must be positive, got %d", max)
	}
	return &SimHeap{region{buf: dirtmake.Bytes(max, max)}}, nil
}

// PageSize returns the system page size.
func (h *SimHeap) PageSize() int { return os.Getpagesize() }
