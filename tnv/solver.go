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

// Package tnv denoises multi-channel 2D images by total nuclear variation
// regularization, the collaborative total-variation model of Duran, Moeller,
// Sbert and Cremers [1]. The channels share a per-pixel gradient spectrum,
// so edges that align across channels survive denoising that would smear
// them if each channel were handled alone.
//
// The minimization runs a primal-dual hybrid gradient scheme with adaptive
// step sizes. The image is cut into horizontal bands advanced in parallel
// by a persistent worker pool; a cheap sequential pass stitches the band
// borders after every iteration, so results do not depend on the number of
// bands.
//
// [1] J. Duran, M. Moeller, C. Sbert, D. Cremers. Collaborative Total
// Variation: A General Framework for Vectorial TV Models. SIAM Journal on
// Imaging Sciences 9(1), 2016.
package tnv

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
)

// DefaultMaxIter is the iteration cap used when Options.MaxIter is zero.
const DefaultMaxIter = 1000

// Options configure a denoising run. The zero value is not usable: Lambda
// is required.
type Options struct {
	// Lambda balances regularization against data fidelity. Larger values
	// smooth more aggressively. Must be positive.
	Lambda float64

	// MaxIter caps the number of iterations. Zero means DefaultMaxIter.
	MaxIter int

	// Tol stops the run early once the per-sample residual falls below
	// it. Zero disables early stopping.
	Tol float64

	// Norm selects the penalty applied to the shared gradient spectrum.
	// The zero value is NormNuclear.
	Norm Norm

	// Partitions overrides the number of horizontal bands solved in
	// parallel. Zero sizes it from the runtime's parallelism. The value
	// is capped at half the image height so every band keeps at least
	// two rows.
	Partitions int

	// Logf receives diagnostic progress lines, one per iteration plus
	// warnings. Nil disables logging.
	Logf func(format string, args ...any)
}

func (o Options) withDefaults() Options {
	if o.MaxIter == 0 {
		o.MaxIter = DefaultMaxIter
	}
	return o
}

// Result reports how a denoising run ended.
type Result struct {
	// Iterations is the number of iterations run.
	Iterations int
	// Residual is the final per-sample primal plus dual residual.
	Residual float64
	// First is the first sample of the denoised estimate, a diagnostic
	// echo of the written result.
	First float64
}

// Denoise minimizes the total nuclear variation of estimate against the
// noisy input, in place: on return estimate holds the denoised volume. The
// estimate also seeds the iteration, so passing a clone of noisy is the
// common cold start and passing a previous solution resumes from it.
//
// Both volumes must have identical dimensions. The run distributes row
// bands over a worker pool created for this call and released before
// returning.
func Denoise[T hwy.Floats](noisy, estimate *Volume[T], opt Options) (Result, error) {
	opt = opt.withDefaults()
	if err := validate(noisy, estimate, opt); err != nil {
		return Result{}, err
	}

	s := newSolver(noisy, estimate, opt)
	defer s.close()
	return s.run(), nil
}

func validate[T hwy.Floats](noisy, estimate *Volume[T], opt Options) error {
	switch {
	case noisy == nil || len(noisy.Data()) == 0:
		return errors.New("tnv: noisy volume is empty")
	case estimate == nil || len(estimate.Data()) == 0:
		return errors.New("tnv: estimate volume is empty")
	case !SameSize(noisy, estimate):
		return fmt.Errorf("tnv: estimate dimensions %dx%dx%d do not match input %dx%dx%d",
			estimate.DimX(), estimate.DimY(), estimate.DimZ(),
			noisy.DimX(), noisy.DimY(), noisy.DimZ())
	case math.IsNaN(opt.Lambda) || opt.Lambda <= 0:
		return fmt.Errorf("tnv: lambda must be positive, got %g", opt.Lambda)
	case opt.MaxIter < 0:
		return fmt.Errorf("tnv: max iterations must not be negative, got %d", opt.MaxIter)
	case math.IsNaN(opt.Tol) || opt.Tol < 0:
		return fmt.Errorf("tnv: tolerance must not be negative, got %g", opt.Tol)
	case opt.Norm != NormNuclear && opt.Norm != NormInf:
		return fmt.Errorf("tnv: unknown norm %v", opt.Norm)
	case opt.Partitions < 0:
		return fmt.Errorf("tnv: partitions must not be negative, got %d", opt.Partitions)
	}
	return nil
}

// band describes one horizontal slice of the image: stepY rows starting at
// offY, with copY rows ingested (the extra row is the halo).
type band struct {
	offY  int
	stepY int
	copY  int
}

// partitionRows splits dimY rows into n bands of near-equal height, spare
// rows going to the earliest bands. n is capped at dimY/2 so every band
// keeps at least two rows, and floored at one.
func partitionRows(dimY, n int) []band {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	n = max(min(n, dimY/2), 1)

	step := dimY / n
	extra := dimY % n
	bands := make([]band, n)
	off := 0
	for i := range n {
		size := step
		if i < extra {
			size++
		}
		cop := size
		if i < n-1 {
			cop = size + 1
		}
		bands[i] = band{offY: off, stepY: size, copY: cop}
		off += size
	}
	return bands
}

// solver owns the state of one denoising run: the partitioned fields, the
// step-size controller and the pool advancing the bands.
type solver[T hwy.Floats] struct {
	noisy    *Volume[T]
	estimate *Volume[T]
	opt      Options
	lambda   float64 // fidelity weight, 1/(2*Options.Lambda)

	ctrl  *stepControl
	pool  *workerpool.Pool
	parts []*partition[T]
}

func newSolver[T hwy.Floats](noisy, estimate *Volume[T], opt Options) *solver[T] {
	bands := partitionRows(noisy.DimY(), opt.Partitions)
	parts := make([]*partition[T], len(bands))
	for i, b := range bands {
		parts[i] = newPartition[T](noisy.DimX(), noisy.DimZ(), b.offY, b.stepY, b.copY)
	}
	return &solver[T]{
		noisy:    noisy,
		estimate: estimate,
		opt:      opt,
		lambda:   1 / (2 * opt.Lambda),
		ctrl:     newStepControl(),
		pool:     workerpool.New(len(parts)),
		parts:    parts,
	}
}

// close releases the pool and drops the partition buffers. Nothing survives
// the solve.
func (s *solver[T]) close() {
	s.pool.Close()
	s.parts = nil
}

func (s *solver[T]) logf(format string, args ...any) {
	if s.opt.Logf != nil {
		s.opt.Logf(format, args...)
	}
}

// dispatch runs fn once per band on the pool and waits for all bands.
func (s *solver[T]) dispatch(fn func(pt *partition[T])) {
	s.pool.ParallelForAtomic(len(s.parts), func(i int) {
		fn(s.parts[i])
	})
}

// run executes the full scheme: ingest, iterate until the residual drops
// below tolerance or the iteration budget is spent, then write the result
// back into the estimate.
func (s *solver[T]) run() Result {
	s.dispatch(func(pt *partition[T]) { pt.ingest(s.noisy, s.estimate) })

	res := Result{Residual: math.Inf(1)}
	for iter := range s.opt.MaxIter {
		out := s.iterate()
		res.Iterations = iter + 1
		res.Residual = out.residual

		s.logf("iter %d: residual=%.8g resprimal=%g resdual=%g b=%g (product=%g unorm=%g qnorm=%g)",
			iter, out.residual, out.stats.resPrimal, out.stats.resDual, out.balance,
			out.stats.product, out.stats.uNorm, out.stats.qNorm)
		if out.action == controlWarn {
			s.logf("warning: step sizes violated the convergence condition after an accepted iteration; no rollback state is kept, continuing with reduced steps")
		}

		if out.residual < s.opt.Tol {
			break
		}
	}

	s.dispatch(func(pt *partition[T]) { pt.finish(s.estimate) })
	res.First = float64(s.estimate.Data()[0])

	s.logf("stopped after %d iterations with residual %g", res.Iterations, res.Residual)
	return res
}

// iterOutcome is one iteration's aggregated statistics and the controller's
// verdict on them.
type iterOutcome struct {
	stats    stepStats
	residual float64
	balance  float64
	action   controlAction
}

// iterate runs one parallel sweep over all bands, stitches the borders,
// aggregates the statistics and lets the controller adjust the step sizes.
// A rejected iteration is rolled back here; the caller only observes the
// verdict.
func (s *solver[T]) iterate() iterOutcome {
	params := stepParams{
		tau:    s.ctrl.tau,
		sigma:  s.ctrl.sigma,
		theta:  s.ctrl.theta,
		lambda: s.lambda,
		norm:   s.opt.Norm,
	}

	s.dispatch(func(pt *partition[T]) { pt.step(params) })

	var st stepStats
	st.resPrimal = reconcileBorders(s.parts, 1/params.tau)
	for _, pt := range s.parts {
		st.add(pt.stats)
	}

	out := iterOutcome{
		stats:    st,
		residual: (st.resPrimal + st.resDual) / float64(s.noisy.DimX()*s.noisy.DimY()*s.noisy.DimZ()),
	}
	out.action, out.balance = s.ctrl.update(st)

	if out.action == controlRestore {
		s.dispatch(func(pt *partition[T]) { pt.restore() })
	}
	return out
}
