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

import "unsafe"

// numBuckets is the number of segregated free lists.
const numBuckets = 15

// sizeClasses[i] is the exact payload size served by bucket i. The last
// bucket has class 0 and holds every free block whose size matches none of
// the exact classes, including all larger sizes.
var sizeClasses = [numBuckets]uintptr{
	16, 32, 48, 64, 80, 96, 112, 128, 144, 160, 176, 192, 208, 224,
	0,
}

// bucketFor maps a payload size to its bucket: exact class match, catch-all
// bucket otherwise.
func bucketFor(size uintptr) int {
	for i, class := range sizeClasses[:numBuckets-1] {
		if class == size {
			return i
		}
	}
	return numBuckets - 1
}

// listInsert pushes the free block at h onto the front of its bucket, so
// the most recently freed block of a class is handed out first.
func (a *Allocator) listInsert(h unsafe.Pointer) {
	bucket := bucketFor(loadTag(h).size())
	node := hdrNode(h)
	node.prev = nil
	node.next = a.buckets[bucket]
	if node.next != nil {
		node.next.prev = node
	}
	a.buckets[bucket] = node
}

// listRemove detaches the free block at h from its bucket in O(1) using the
// node's own links. The bucket is recomputed from the block's current size,
// so the tag must not have been rewritten since insertion.
func (a *Allocator) listRemove(h unsafe.Pointer) {
	node := hdrNode(h)
	if node.next != nil {
		node.next.prev = node.prev
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		a.buckets[bucketFor(loadTag(h).size())] = node.next
	}
}

// findFit returns the header of a free block whose usable space covers a
// request of size bytes, or nil if none exists. The usable space of a free
// block is its payload plus the reusable footer word, so the search size is
// the normalized payload that must back the request. Buckets below the
// catch-all hold exact classes, therefore the head of the first non-empty
// bucket at or above the search size fits; the catch-all bucket is scanned
// first fit against the raw request.
func (a *Allocator) findFit(size uintptr) unsafe.Pointer {
	search := adjustRequest(size)
	for i := bucketFor(search); i < numBuckets-1; i++ {
		if node := a.buckets[i]; node != nil {
			return nodeHeader(node)
		}
	}
	for node := a.buckets[numBuckets-1]; node != nil; node = node.next {
		h := nodeHeader(node)
		if loadTag(h).size()+footerSize >= size {
			return h
		}
	}
	return nil
}

// listContains reports whether the block at h sits on any bucket. Linear
// over every free block; used only by the heap checker.
func (a *Allocator) listContains(h unsafe.Pointer) bool {
	for i := range a.buckets {
		for node := a.buckets[i]; node != nil; node = node.next {
			if nodeHeader(node) == h {
				return true
			}
		}
	}
	return false
}
