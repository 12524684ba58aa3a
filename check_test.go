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
	"bytes"
	"testing"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/heapx/mem"
)

func headerOf(b []byte) unsafe.Pointer {
	return payloadHeader(unsafe.Pointer(unsafe.SliceData(b)))
}

func TestCheckHeapCleanHeap(t *testing.T) {
	a := newTestAllocator(t, mem.DefaultMaxHeap)
	require.NoError(t, a.checkHeap())

	b1 := a.Malloc(16)
	b2 := a.Malloc(300)
	a.Free(b1)
	require.NoError(t, a.checkHeap())
	a.Free(b2)
	require.NoError(t, a.checkHeap())
}

func TestCheckHeapViolations(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(a *Allocator)
		want    string
	}{
		{
			name: "prologue_size",
			corrupt: func(a *Allocator) {
				storeTag(a.base, makeTag(16, false, false))
			},
			want: "prologue payload size",
		},
		{
			name: "prologue_free",
			corrupt: func(a *Allocator) {
				storeTag(a.base, makeTag(0, true, false))
			},
			want: "prologue is marked free",
		},
		{
			name: "free_block_off_list",
			corrupt: func(a *Allocator) {
				b := a.Malloc(16)
				h := headerOf(b)
				storeTag(h, loadTag(h).withFree(true))
			},
			want: "on no free list",
		},
		{
			name: "allocated_block_on_list",
			corrupt: func(a *Allocator) {
				b := a.Malloc(16)
				a.listInsert(headerOf(b))
			},
			want: "allocated but present on a free list",
		},
		{
			name: "prev_free_flag_stale",
			corrupt: func(a *Allocator) {
				a.Malloc(16)
				b2 := a.Malloc(16)
				h2 := headerOf(b2)
				storeTag(h2, loadTag(h2).withPrevFree(true))
			},
			want: "prev-free flag",
		},
		{
			name: "footer_mismatch",
			corrupt: func(a *Allocator) {
				a.Malloc(16) // keep the freed block away from the prologue
				b := a.Malloc(16)
				a.Malloc(16) // keep it away from the epilogue
				a.Free(b)
				h := headerOf(b)
				storeTag(hdrFooter(h), loadTag(h).withPrevFree(true))
			},
			want: "footer",
		},
		{
			name: "escaped_coalescing",
			corrupt: func(a *Allocator) {
				b1 := a.Malloc(16)
				b2 := a.Malloc(16)
				a.Malloc(16) // pin the epilogue side
				a.Free(b1)
				// Hand-mark b2 free without coalescing it into b1.
				h2 := headerOf(b2)
				storeTag(h2, makeTag(loadTag(h2).size(), true, true))
				mirrorFooter(h2)
				a.listInsert(h2)
			},
			want: "escaped coalescing",
		},
		{
			name: "wrong_bucket",
			corrupt: func(a *Allocator) {
				b := a.Malloc(16)
				a.Malloc(16) // pin
				a.Free(b)
				// Move the node from the 16-byte class into another bucket.
				node := a.buckets[0]
				a.buckets[0] = nil
				a.buckets[5] = node
			},
			want: "does not match class",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAllocator(t, mem.DefaultMaxHeap)
			tt.corrupt(a)
			err := a.checkHeap()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckHeapLogsViolation(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h, err := mem.NewSimHeap(mem.DefaultMaxHeap)
	require.NoError(t, err)
	a, err := NewWithOptions(h, Options{Logger: &logger})
	require.NoError(t, err)

	b := a.Malloc(16)
	assert.True(t, a.CheckHeap("pre"))
	assert.Empty(t, buf.String())

	hd := headerOf(b)
	storeTag(hd, loadTag(hd).withFree(true))

	assert.False(t, a.CheckHeap("post"))
	assert.Contains(t, buf.String(), "on no free list")
	assert.Contains(t, buf.String(), "post")
}

func TestVerifyModeQuietOnHealthyHeap(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h, err := mem.NewSimHeap(mem.DefaultMaxHeap)
	require.NoError(t, err)
	a, err := NewWithOptions(h, Options{Verify: true, Logger: &logger})
	require.NoError(t, err)

	b1 := a.Malloc(100)
	b2 := a.Calloc(3, 16)
	b1 = a.Realloc(b1, 400)
	a.Free(b2)
	a.Free(b1)

	assert.Empty(t, buf.String())
}
