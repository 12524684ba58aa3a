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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagFields(t *testing.T) {
	tests := []struct {
		size     uintptr
		free     bool
		prevFree bool
	}{
		{0, false, false},
		{16, true, false},
		{224, false, true},
		{4096, true, true},
	}
	for _, tt := range tests {
		tg := makeTag(tt.size, tt.free, tt.prevFree)
		assert.Equal(t, tt.size, tg.size())
		assert.Equal(t, tt.free, tg.free())
		assert.Equal(t, tt.prevFree, tg.prevFree())
	}
}

func TestTagLayout(t *testing.T) {
	// Size in the high bits, free in bit 0, prev-free in bit 1.
	assert.Equal(t, tag(0x33), makeTag(0x30, true, true))
	assert.Equal(t, tag(0x102), makeTag(0x100, false, true))
}

func TestTagMutatorsPreserveOtherFields(t *testing.T) {
	tg := makeTag(128, false, true)

	set := tg.withFree(true)
	assert.True(t, set.free())
	assert.Equal(t, uintptr(128), set.size())
	assert.True(t, set.prevFree())

	cleared := set.withPrevFree(false)
	assert.True(t, cleared.free())
	assert.Equal(t, uintptr(128), cleared.size())
	assert.False(t, cleared.prevFree())
}

func TestMakeTagRejectsUnalignedSize(t *testing.T) {
	assert.Panics(t, func() { makeTag(24, false, false) })
	assert.Panics(t, func() { makeTag(1, true, false) })
}
