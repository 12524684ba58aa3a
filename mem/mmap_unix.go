//go:build unix

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

package mem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapHeap simulates a heap inside an anonymous private mapping. The whole
// reservation is mapped up front with a page-aligned base; Sbrk only moves
// the break inside it.
type MmapHeap struct {
	region
}

// NewMmapHeap maps a reservation of max bytes.
func NewMmapHeap(max int) (*MmapHeap, error) {
	if max <= 0 {
		return nil, fmt.Errorf("mem: reservation must be positive, got %d", max)
	}
	buf, err := unix.Mmap(-1, 0, max, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap reservation failed: %w", err)
	}
	return &MmapHeap{region{buf: buf}}, nil
}

// Close unmaps the reservation. Every block handed out by an allocator on
// top of this heap dies with it; Sbrk fails afterwards.
func (h *MmapHeap) Close() error {
	if h.buf == nil {
		return nil
	}
	buf := h.buf
	h.buf = nil
	return unix.Munmap(buf)
}

// PageSize returns the system page size.
func (h *MmapHeap) PageSize() int { return unix.Getpagesize() }
