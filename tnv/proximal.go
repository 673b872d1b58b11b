// Copyright 2026 The go-tnv Authors. SPDX-License-Identifier: Apache-2.0

package tnv

import (
	"fmt"
	"math"
)

// Norm selects the matrix norm whose proximal map is applied to the shared
// per-pixel gradient spectrum during the dual update.
type Norm int

const (
	// NormNuclear penalizes the sum of the singular values. Its proximal
	// map soft-thresholds each singular value, favoring low-rank (channel
	// aligned) gradients.
	NormNuclear Norm = iota
	// NormInf penalizes the largest singular value. Its proximal map
	// projects the singular values onto an L1 ball by water-filling.
	NormInf
)

func (n Norm) String() string {
	switch n {
	case NormNuclear:
		return "nuclear"
	case NormInf:
		return "inf"
	default:
		return fmt.Sprintf("Norm(%d)", int(n))
	}
}

const (
	// tiny guards divisions by near-zero singular values and eigenvector
	// norms.
	tiny = 1e-8
)

// gramEigen returns the eigenvalues of the symmetric 2x2 matrix
// [m1 m2; m2 m3], clamped to be non-negative, with eig1 >= eig2. The matrix
// is a Gram matrix of channel gradients, so negative values can only arise
// from rounding.
func gramEigen(m1, m2, m3 float64) (eig1, eig2 float64) {
	tr := m1 + m3
	det := m1*m3 - m2*m2
	disc := math.Sqrt(math.Max(tr*tr/4-det, 0))
	eig1 = math.Max(tr/2+disc, 0)
	eig2 = math.Max(tr/2-disc, 0)
	return eig1, eig2
}

// projectL1 projects the pair (p0, p1) of non-negative values onto the unit
// L1 ball by water-filling: a shared shrink amount is subtracted from every
// non-zero entry and re-estimated until the sum is within the ball.
func projectL1(p0, p1 float64) (float64, float64) {
	proj := [2]float64{p0, p1}
	shrink := 0.0
	for sum := math.Inf(1); sum > 1; {
		sum = 0
		num := 0
		for i := range proj {
			proj[i] = math.Max(proj[i]-shrink, 0)
			sum += math.Abs(proj[i])
			if proj[i] != 0 {
				num++
			}
		}
		if num == 0 {
			break
		}
		shrink = (sum - 1) / float64(num)
	}
	return proj[0], proj[1]
}

// shrinkGram maps the per-pixel Gram matrix [m1 m2; m2 m3] of the channel
// gradients to the symmetric multiplier matrix [t0 t1; t1 t2] that realizes
// the proximal step on the shared spectrum: eigendecompose, apply the
// norm's shrinkage to the singular values (the square roots of the
// eigenvalues), and rebuild the matrix with each updated singular value
// expressed as a ratio to the original. Multiplying a channel's gradient by
// the result applies the shrinkage to all channels at once.
func shrinkGram(m1, m2, m3, sigma float64, norm Norm) (t0, t1, t2 float64) {
	eig1, eig2 := gramEigen(m1, m2, m3)
	sig1 := math.Sqrt(eig1)
	sig2 := math.Sqrt(eig2)

	var v1, v2, v3, v4 float64
	if m2 != 0 {
		// Eigenvectors (eig - m3, m2), normalized. A vanishing norm means
		// the eigenvalue is defective under rounding; leave the axis zero.
		mu1 := math.Sqrt(m2*m2 + (eig1-m3)*(eig1-m3))
		mu2 := math.Sqrt(m2*m2 + (eig2-m3)*(eig2-m3))
		if mu1 > tiny {
			v1 = (eig1 - m3) / mu1
			v3 = m2 / mu1
		}
		if mu2 > tiny {
			v2 = (eig2 - m3) / mu2
			v4 = m2 / mu2
		}
	} else {
		// Already diagonal. The larger diagonal entry owns the (1, 0)
		// eigenvector.
		if m1 > m3 {
			v1, v4 = 1, 1
		} else {
			v2, v3 = 1, 1
		}
	}

	var sig1Upd, sig2Upd float64
	switch norm {
	case NormNuclear:
		sig1Upd = math.Max(sig1-1/sigma, 0)
		sig2Upd = math.Max(sig2-1/sigma, 0)
	case NormInf:
		p0, p1 := projectL1(sigma*math.Abs(sig1), sigma*math.Abs(sig2))
		sig1Upd = sig1 - p0/sigma
		sig2Upd = sig2 - p1/sigma
	}

	// Ratios of updated to original singular values. Vanishing originals
	// keep the updated value as-is (it is zero for both norms).
	if sig1 > tiny {
		sig1Upd /= sig1
	}
	if sig2 > tiny {
		sig2Upd /= sig2
	}

	t0 = sig1Upd*v1*v1 + sig2Upd*v2*v2
	t1 = sig1Upd*v1*v3 + sig2Upd*v2*v4
	t2 = sig1Upd*v3*v3 + sig2Upd*v4*v4
	return t0, t1, t2
}
