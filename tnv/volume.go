// Copyright 2026 go-tnv Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tnv

import (
	"fmt"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/algo"
)

// Volume is a multi-channel 2D image stored as planar data: channel k
// occupies the contiguous block data[k*dimX*dimY : (k+1)*dimX*dimY], laid
// out row-major. Planar storage keeps each channel's rows contiguous, which
// is the natural layout for per-channel I/O and for slicing row bands out of
// every channel at once.
type Volume[T hwy.Floats] struct {
	data []T
	dimX int
	dimY int
	dimZ int
}

// NewVolume creates a zero-filled volume with the specified dimensions.
// Invalid dimensions yield an empty volume.
func NewVolume[T hwy.Floats](dimX, dimY, dimZ int) *Volume[T] {
	if dimX <= 0 || dimY <= 0 || dimZ <= 0 {
		return &Volume[T]{}
	}
	return &Volume[T]{
		data: make([]T, dimX*dimY*dimZ),
		dimX: dimX,
		dimY: dimY,
		dimZ: dimZ,
	}
}

// VolumeOf wraps an existing planar slice without copying. The slice must
// hold exactly dimX*dimY*dimZ elements, channel-major as described on
// Volume. The volume aliases data: writes through either are visible to
// both.
func VolumeOf[T hwy.Floats](data []T, dimX, dimY, dimZ int) (*Volume[T], error) {
	if dimX <= 0 || dimY <= 0 || dimZ <= 0 {
		return nil, fmt.Errorf("tnv: invalid dimensions %dx%dx%d", dimX, dimY, dimZ)
	}
	if len(data) != dimX*dimY*dimZ {
		return nil, fmt.Errorf("tnv: data length %d does not match dimensions %dx%dx%d (need %d)",
			len(data), dimX, dimY, dimZ, dimX*dimY*dimZ)
	}
	return &Volume[T]{data: data, dimX: dimX, dimY: dimY, dimZ: dimZ}, nil
}

// DimX returns the width in pixels.
func (v *Volume[T]) DimX() int { return v.dimX }

// DimY returns the height in pixels.
func (v *Volume[T]) DimY() int { return v.dimY }

// DimZ returns the number of channels.
func (v *Volume[T]) DimZ() int { return v.dimZ }

// Data returns the backing slice in planar layout.
func (v *Volume[T]) Data() []T { return v.data }

// Plane returns the mutable plane of channel k.
func (v *Volume[T]) Plane(k int) []T {
	if k < 0 || k >= v.dimZ || v.data == nil {
		return nil
	}
	start := k * v.dimX * v.dimY
	return v.data[start : start+v.dimX*v.dimY]
}

// Row returns the mutable row y of channel k.
func (v *Volume[T]) Row(k, y int) []T {
	if k < 0 || k >= v.dimZ || y < 0 || y >= v.dimY || v.data == nil {
		return nil
	}
	start := k*v.dimX*v.dimY + y*v.dimX
	return v.data[start : start+v.dimX]
}

// At returns the value of channel k at position (x, y).
func (v *Volume[T]) At(k, x, y int) T {
	if k < 0 || k >= v.dimZ || x < 0 || x >= v.dimX || y < 0 || y >= v.dimY || v.data == nil {
		var zero T
		return zero
	}
	return v.data[k*v.dimX*v.dimY+y*v.dimX+x]
}

// Set sets the value of channel k at position (x, y).
func (v *Volume[T]) Set(k, x, y int, value T) {
	if k < 0 || k >= v.dimZ || x < 0 || x >= v.dimX || y < 0 || y >= v.dimY || v.data == nil {
		return
	}
	v.data[k*v.dimX*v.dimY+y*v.dimX+x] = value
}

// SameSize returns true if both volumes have the same dimensions.
func SameSize[T, U hwy.Floats](a *Volume[T], b *Volume[U]) bool {
	return a.dimX == b.dimX && a.dimY == b.dimY && a.dimZ == b.dimZ
}

// Clone creates a deep copy of the volume.
func (v *Volume[T]) Clone() *Volume[T] {
	if v.data == nil {
		return &Volume[T]{}
	}
	clone := &Volume[T]{
		data: make([]T, len(v.data)),
		dimX: v.dimX,
		dimY: v.dimY,
		dimZ: v.dimZ,
	}
	algo.Copy(v.data, clone.data)
	return clone
}

// Clear sets all samples to zero.
func (v *Volume[T]) Clear() {
	clear(v.data)
}

// Fill sets all samples to the specified value.
func (v *Volume[T]) Fill(value T) {
	algo.Fill(v.data, value)
}
