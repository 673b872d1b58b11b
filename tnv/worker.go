// Copyright 2026 The go-tnv Authors. SPDX-License-Identifier: Apache-2.0

package tnv

import (
	"math"

	"github.com/ajroetker/go-highway/hwy"
)

// stepParams carries one iteration's step sizes into the row sweep. A fresh
// value is built per iteration so workers never read mutable solver state.
type stepParams struct {
	tau    float64
	sigma  float64
	theta  float64
	lambda float64 // fidelity weight, 1/(2*Options.Lambda)
	norm   Norm
}

// stepStats accumulates one partition's residual and balancing terms for a
// single iteration. Sums are kept in float64 regardless of the band's sample
// type.
type stepStats struct {
	resPrimal float64
	resDual   float64
	product   float64
	uNorm     float64
	qNorm     float64
}

func (st *stepStats) add(o stepStats) {
	st.resPrimal += o.resPrimal
	st.resDual += o.resDual
	st.product += o.product
	st.uNorm += o.uNorm
	st.qNorm += o.qNorm
}

// partition is one horizontal band of the image together with every field
// the scheme evolves on it. Bands are stored interleaved, sample (j, i, k)
// at (j*dimX+i)*dimZ+k, so the per-pixel channel loops walk contiguous
// memory.
//
// The primal fields input, u and div carry copY rows: the band's stepY own
// rows plus, on every band but the last, one halo row mirroring the next
// band's first row. The halo lets the band compute vertical gradients at
// its lower edge without touching neighbor state mid-iteration. The dual
// fields qx, qy and the gradients carry exactly stepY rows.
//
// div0, udiff0 and udiff are single-row scratch: the first two snapshot the
// band's first row for the border pass, udiff rolls each row's primal
// change forward one row so it can enter the statistics after the dual
// update.
type partition[T hwy.Floats] struct {
	offY  int
	stepY int
	copY  int
	dimX  int
	dimZ  int

	input []T
	u     []T
	qx    []T
	qy    []T
	gradx []T
	grady []T
	div   []T

	div0   []float64
	udiff0 []float64
	udiff  []float64

	// Per-channel scratch reused by every pixel of the sweep.
	gradXDiff []float64
	gradYDiff []float64
	ubarX     []float64
	ubarY     []float64
	udiffNext []float64

	stats stepStats
}

func newPartition[T hwy.Floats](dimX, dimZ, offY, stepY, copY int) *partition[T] {
	band := dimX * stepY * dimZ
	haloed := dimX * copY * dimZ
	row := dimX * dimZ
	return &partition[T]{
		offY:  offY,
		stepY: stepY,
		copY:  copY,
		dimX:  dimX,
		dimZ:  dimZ,

		input: make([]T, haloed),
		u:     make([]T, haloed),
		qx:    make([]T, band),
		qy:    make([]T, band),
		gradx: make([]T, band),
		grady: make([]T, band),
		div:   make([]T, haloed),

		div0:   make([]float64, row),
		udiff0: make([]float64, row),
		udiff:  make([]float64, row),

		gradXDiff: make([]float64, dimZ),
		gradYDiff: make([]float64, dimZ),
		ubarX:     make([]float64, dimZ),
		ubarY:     make([]float64, dimZ),
		udiffNext: make([]float64, dimZ),
	}
}

// ingest zeroes the evolved fields and copies the band's rows, halo
// included, out of the planar volumes into the interleaved layout. u starts
// from the estimate, which doubles as a warm start.
func (pt *partition[T]) ingest(noisy, estimate *Volume[T]) {
	clear(pt.u)
	clear(pt.qx)
	clear(pt.qy)
	clear(pt.gradx)
	clear(pt.grady)
	clear(pt.div)

	dimX, dimZ := pt.dimX, pt.dimZ
	for k := range dimZ {
		in := noisy.Plane(k)
		est := estimate.Plane(k)
		for j := range pt.copY {
			src := (pt.offY + j) * dimX
			dst := j*dimX*dimZ + k
			for i := range dimX {
				pt.input[dst] = in[src+i]
				pt.u[dst] = est[src+i]
				dst += dimZ
			}
		}
	}
}

// restore zeroes the evolved fields, returning the band to its state before
// the first iteration. The ingested input stays, so the next iteration
// rebuilds u from it. Only valid while no iteration has been accepted:
// after that the pre-iteration state is gone.
func (pt *partition[T]) restore() {
	clear(pt.u)
	clear(pt.qx)
	clear(pt.qy)
	clear(pt.gradx)
	clear(pt.grady)
	clear(pt.div)
}

// finish writes the band's stepY own rows of u back into the planar
// estimate. Halo rows are owned by the next band and skipped.
func (pt *partition[T]) finish(estimate *Volume[T]) {
	dimX, dimZ := pt.dimX, pt.dimZ
	for k := range dimZ {
		est := estimate.Plane(k)
		for j := range pt.stepY {
			dst := (pt.offY + j) * dimX
			src := j*dimX*dimZ + k
			for i := range dimX {
				est[dst+i] = pt.u[src]
				src += dimZ
			}
		}
	}
}

// step advances every field on the band by one primal-dual iteration and
// leaves the round's statistics in pt.stats.
//
// The sweep updates u one row ahead of the dual work: row 0 in the prologue,
// row j+1 while row j's duals are computed. That way the vertical gradient
// at row j always sees current values on both rows without a second pass.
// Arithmetic runs in float64 and results are stored back at the band's
// precision.
//
// The divergence on the band's first row cannot include the qy row owned by
// the band above, so for offY > 0 that row's primal residual term is left
// out here. The border pass adds the corrected term once the neighbor's
// duals are final.
func (pt *partition[T]) step(p stepParams) {
	dimX, dimZ := pt.dimX, pt.dimZ
	row := dimX * dimZ

	tauLambda := p.tau * p.lambda
	divTau := 1 / p.tau
	divSigma := 1 / p.sigma
	constant := 1 + tauLambda

	var st stepStats

	for i := range dimX {
		for k := range dimZ {
			l := i*dimZ + k
			uUpd := (float64(pt.u[l]) + p.tau*float64(pt.div[l]) + tauLambda*float64(pt.input[l])) / constant
			d := float64(pt.u[l]) - uUpd
			pt.udiff[l] = d
			pt.udiff0[l] = d
			pt.div0[l] = float64(pt.div[l])
			pt.u[l] = T(uUpd)
		}
	}

	for j := range pt.stepY {
		for i := range dimX {
			l := (j*dimX + i) * dimZ
			var m1, m2, m3 float64

			for k := range dimZ {
				idx := l + k
				next := idx + row

				if j+1 < pt.copY {
					uUpd := (float64(pt.u[next]) + p.tau*float64(pt.div[next]) + tauLambda*float64(pt.input[next])) / constant
					pt.udiffNext[k] = float64(pt.u[next]) - uUpd
					pt.u[next] = T(uUpd)
				} else {
					pt.udiffNext[k] = 0
				}

				var gradXUpd, gradYUpd float64
				if i < dimX-1 {
					gradXUpd = float64(pt.u[idx+dimZ]) - float64(pt.u[idx])
				}
				if j < pt.copY-1 {
					gradYUpd = float64(pt.u[next]) - float64(pt.u[idx])
				}

				pt.gradXDiff[k] = float64(pt.gradx[idx]) - gradXUpd
				pt.gradYDiff[k] = float64(pt.grady[idx]) - gradYUpd
				pt.gradx[idx] = T(gradXUpd)
				pt.grady[idx] = T(gradYUpd)

				// Over-relaxed extrapolation of the new gradient.
				pt.ubarX[k] = gradXUpd - p.theta*pt.gradXDiff[k]
				pt.ubarY[k] = gradYUpd - p.theta*pt.gradYDiff[k]

				vx := pt.ubarX[k] + divSigma*float64(pt.qx[idx])
				vy := pt.ubarY[k] + divSigma*float64(pt.qy[idx])
				m1 += vx * vx
				m2 += vx * vy
				m3 += vy * vy
			}

			t0, t1, t2 := shrinkGram(m1, m2, m3, p.sigma, p.norm)

			for k := range dimZ {
				idx := l + k

				vx := pt.ubarX[k] + divSigma*float64(pt.qx[idx])
				vy := pt.ubarY[k] + divSigma*float64(pt.qy[idx])
				gxUpd := vx*t0 + vy*t1
				gyUpd := vx*t1 + vy*t2

				qxDiff := p.sigma * (pt.ubarX[k] - gxUpd)
				qyDiff := p.sigma * (pt.ubarY[k] - gyUpd)
				pt.qx[idx] += T(qxDiff)
				pt.qy[idx] += T(qyDiff)

				d := pt.udiff[i*dimZ+k]
				pt.udiff[i*dimZ+k] = pt.udiffNext[k]
				st.uNorm += d * d
				st.qNorm += qxDiff*qxDiff + qyDiff*qyDiff

				var divUpd float64
				if i > 0 {
					divUpd -= float64(pt.qx[idx-dimZ])
				}
				if j > 0 {
					divUpd -= float64(pt.qy[idx-row])
				}
				if i < dimX-1 {
					divUpd += float64(pt.qx[idx])
				}
				if j < pt.copY-1 {
					divUpd += float64(pt.qy[idx])
				}
				divDiff := float64(pt.div[idx]) - divUpd
				pt.div[idx] = T(divUpd)

				if pt.offY == 0 || j > 0 {
					st.resPrimal += math.Abs(divTau*d + divDiff)
				}
				st.resDual += math.Abs(divSigma*qxDiff + pt.gradXDiff[k])
				st.resDual += math.Abs(divSigma*qyDiff + pt.gradYDiff[k])
				st.product -= pt.gradXDiff[k]*qxDiff + pt.gradYDiff[k]*qyDiff
			}
		}
	}

	pt.stats = st
}
