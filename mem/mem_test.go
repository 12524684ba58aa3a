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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimHeap(t *testing.T) {
	_, err := NewSimHeap(0)
	assert.Error(t, err)
	_, err = NewSimHeap(-1)
	assert.Error(t, err)

	h, err := NewSimHeap(4096)
	require.NoError(t, err)
	assert.Zero(t, h.Size())
	assert.Greater(t, h.PageSize(), 0)
}

func TestSbrk(t *testing.T) {
	h, err := NewSimHeap(4096)
	require.NoError(t, err)

	p1, err := h.Sbrk(16)
	require.NoError(t, err)
	assert.Equal(t, h.Lo(), p1, "first break is the region base")
	assert.Equal(t, 16, h.Size())

	p2, err := h.Sbrk(32)
	require.NoError(t, err)
	assert.Equal(t, uintptr(p1)+16, uintptr(p2), "breaks are contiguous")
	assert.Equal(t, 48, h.Size())
	assert.Equal(t, uintptr(h.Lo())+47, uintptr(h.Hi()))

	// The granted range is real writable memory.
	buf := unsafe.Slice((*byte)(p1), 48)
	for i := range buf {
		buf[i] = byte(i)
	}
	assert.Equal(t, byte(47), buf[47])
}

func TestSbrkInvalidIncrement(t *testing.T) {
	h, err := NewSimHeap(4096)
	require.NoError(t, err)

	_, err = h.Sbrk(0)
	assert.Error(t, err)
	_, err = h.Sbrk(-8)
	assert.Error(t, err)
	assert.Zero(t, h.Size(), "failed calls must not move the break")
}

func TestSbrkExhaustion(t *testing.T) {
	h, err := NewSimHeap(64)
	require.NoError(t, err)

	_, err = h.Sbrk(64)
	require.NoError(t, err)

	_, err = h.Sbrk(1)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, 64, h.Size(), "the break never moves past the reservation")
}
