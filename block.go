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

// A block is located purely by address arithmetic over its header and
// footer tags; there is no stored block-to-block link. The layout is
//
//	[header 8B] [payload sizeB] [footer 8B] [next header 8B] ...
//
// and every derivation below follows from it.

func loadTag(p unsafe.Pointer) tag     { return *(*tag)(p) }
func storeTag(p unsafe.Pointer, t tag) { *(*tag)(p) = t }

// alignUp rounds n up to the next multiple of the payload alignment.
func alignUp(n uintptr) uintptr {
	return (n + alignment - 1) &^ uintptr(alignment-1)
}

// hdrPayload returns the payload of the block whose header is at h.
func hdrPayload(h unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(h, headerSize)
}

// payloadHeader returns the header of the block owning payload p.
func payloadHeader(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(p, -headerSize)
}

// hdrFooter returns the footer of the block whose header is at h.
func hdrFooter(h unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(h, headerSize+int(loadTag(h).size()))
}

// hdrNext returns the header of the block immediately after the one at h.
func hdrNext(h unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(hdrFooter(h), footerSize)
}

// footerHeader returns the header of the block whose footer is at f. The
// footer carries its own size field, so no back pointer is needed.
func footerHeader(f unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(f, -int(loadTag(f).size())-headerSize)
}

// hdrPrev returns the header of the block immediately before the one at h.
// Valid only while the preceding block's footer is intact, i.e. while it is
// free.
func hdrPrev(h unsafe.Pointer) unsafe.Pointer {
	return footerHeader(unsafe.Add(h, -footerSize))
}

// mirrorFooter copies the header tag into the footer, restoring the footer
// after its bytes were used as payload tail.
func mirrorFooter(h unsafe.Pointer) {
	storeTag(hdrFooter(h), loadTag(h))
}

// listNode is the doubly linked bucket node overlaid on the first 16 bytes
// of a free block's payload. It is meaningful strictly between insertion
// into a bucket and removal from it; once the block is allocated the bytes
// belong to the user and any access through a stale node corrupts the heap.
type listNode struct {
	prev *listNode
	next *listNode
}

// hdrNode returns the bucket node of the free block whose header is at h.
func hdrNode(h unsafe.Pointer) *listNode {
	return (*listNode)(hdrPayload(h))
}

// nodeHeader returns the header of the free block owning the bucket node n.
func nodeHeader(n *listNode) unsafe.Pointer {
	return payloadHeader(unsafe.Pointer(n))
}
