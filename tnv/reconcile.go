// Copyright 2026 The go-tnv Authors. SPDX-License-Identifier: Apache-2.0

package tnv

import (
	"math"

	"github.com/ajroetker/go-highway/hwy"
)

// reconcileBorders stitches the band borders after a parallel sweep. Each
// band's first-row divergence is missing the qy contribution of the band
// above, which was still being updated while the sweep ran. With all duals
// final, the pass subtracts that contribution, mirrors the corrected row
// into the upper band's halo so both copies of the shared row keep evolving
// identically, and accumulates the primal residual terms the sweep deferred
// for those rows.
//
// divTau must be the reciprocal of the tau the sweep ran with. The pass is
// sequential; it touches one row per border.
func reconcileBorders[T hwy.Floats](parts []*partition[T], divTau float64) float64 {
	resPrimal := 0.0
	for p := 1; p < len(parts); p++ {
		prev, cur := parts[p-1], parts[p]
		row := cur.dimX * cur.dimZ
		last := (prev.stepY - 1) * row

		for l := range row {
			divDiff := cur.div0[l] - float64(cur.div[l])
			d := cur.udiff0[l]

			cur.div[l] -= prev.qy[last+l]
			prev.div[prev.stepY*row+l] = cur.div[l]

			divDiff += float64(prev.qy[last+l])
			resPrimal += math.Abs(divTau*d + divDiff)
		}
	}
	return resPrimal
}
