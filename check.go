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

import (
	"fmt"
	"unsafe"
)

// CheckHeap re-derives every heap invariant from the raw block chain and
// the free lists and reports whether they all hold. The first violation is
// written to the logger together with tag, which identifies the call site.
// The pass is read-only and costs O(blocks x average bucket length), so it
// belongs in diagnosis, never on the allocation path.
func (a *Allocator) CheckHeap(tag string) bool {
	if err := a.checkHeap(); err != nil {
		a.logger.Error().Str("tag", tag).Err(err).Msg("heapx: heap check failed")
		return false
	}
	return true
}

// checkHeap walks the block chain from prologue to epilogue, then every
// bucket, and returns the first violated invariant. Block numbers in errors
// are 1-based, counting from the first block after the prologue.
func (a *Allocator) checkHeap() error {
	if !a.inHeap(a.base) {
		return fmt.Errorf("prologue header %#x outside heap bounds", uintptr(a.base))
	}
	pro := loadTag(a.base)
	if pro.size() != 0 {
		return fmt.Errorf("prologue payload size is %d, want 0", pro.size())
	}
	if pro.free() {
		return fmt.Errorf("prologue is marked free")
	}

	// Free blocks seen on the chain walk; must match the bucket walk below.
	chainFree := 0

	prev := a.base
	for blockNum := 1; ; blockNum++ {
		h := hdrNext(prev)
		if !a.inHeap(h) {
			return fmt.Errorf("block %d: header %#x outside heap bounds", blockNum, uintptr(h))
		}
		if uintptr(hdrPayload(h))&(alignment-1) != 0 {
			return fmt.Errorf("block %d: payload %#x not 16-byte aligned", blockNum, uintptr(hdrPayload(h)))
		}

		t := loadTag(h)
		if prevFree := loadTag(prev).free(); t.prevFree() != prevFree {
			return fmt.Errorf("block %d: prev-free flag is %v but the preceding block's free flag is %v",
				blockNum, t.prevFree(), prevFree)
		}

		if t.free() {
			chainFree++
			if !a.listContains(h) {
				return fmt.Errorf("block %d: marked free but on no free list", blockNum)
			}
			if loadTag(prev).free() {
				return fmt.Errorf("block %d: free block follows a free block, escaped coalescing", blockNum)
			}
			if ft := loadTag(hdrFooter(h)); ft != t {
				return fmt.Errorf("block %d: header %#x and footer %#x differ", blockNum, uintptr(t), uintptr(ft))
			}
		} else if a.listContains(h) {
			return fmt.Errorf("block %d: allocated but present on a free list", blockNum)
		}

		if t.size() == 0 {
			// Epilogue reached.
			break
		}
		prev = h
	}

	listFree := 0
	for i := range a.buckets {
		var prevNode *listNode
		for node := a.buckets[i]; node != nil; node = node.next {
			if !a.inHeap(unsafe.Pointer(node)) {
				return fmt.Errorf("bucket %d: node %#x outside heap bounds", i, uintptr(unsafe.Pointer(node)))
			}
			if node.prev != prevNode {
				return fmt.Errorf("bucket %d: node back pointer does not match list order", i)
			}

			h := nodeHeader(node)
			t := loadTag(h)
			if !t.free() {
				return fmt.Errorf("bucket %d: block on free list is not marked free", i)
			}
			if i != numBuckets-1 && t.size() != sizeClasses[i] {
				return fmt.Errorf("bucket %d: block payload size %d does not match class %d",
					i, t.size(), sizeClasses[i])
			}

			listFree++
			prevNode = node
		}
	}

	if chainFree != listFree {
		return fmt.Errorf("free block counts differ: %d via block chain, %d via free lists", chainFree, listFree)
	}
	return nil
}
