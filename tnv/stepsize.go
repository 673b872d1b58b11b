// Copyright 2026 The go-tnv Authors. SPDX-License-Identifier: Apache-2.0

package tnv

// Adaptive step sizes for the primal-dual scheme, following the residual
// balancing rule of Goldstein, Li, Yuan, Esser and Baraniuk ("Adaptive
// primal-dual hybrid gradient methods for saddle-point problems") as used
// for collaborative TV denoising.

// controlAction is the controller's verdict on one iteration.
type controlAction int

const (
	// controlProceed accepts the iteration.
	controlProceed controlAction = iota
	// controlRestore rejects the iteration; the caller must roll every
	// band back to its pre-iteration state and retry with the shrunk
	// step sizes.
	controlRestore
	// controlWarn means the iteration broke the step-size condition but
	// no rollback state exists anymore. The caller keeps going with the
	// shrunk step sizes and should surface a warning.
	controlWarn
)

// stepControl tunes tau and sigma between iterations. It starts unstarted:
// until the first iteration passes the convergence condition, a violating
// iteration can still be rolled back because every band can be rebuilt from
// its ingested input. Once an iteration has been accepted that option is
// gone, so later violations only shrink the step sizes.
type stepControl struct {
	tau   float64
	sigma float64
	theta float64

	s      float64 // residual balance target
	gamma  float64 // convergence condition margin
	beta   float64 // step shrink on violation
	alpha0 float64 // initial balancing rate
	alpha  float64 // current balancing rate
	delta  float64 // balance dead zone ratio
	eta    float64 // balancing rate decay

	started bool
}

func newStepControl() *stepControl {
	return &stepControl{
		tau:    0.5,
		sigma:  0.5,
		theta:  1,
		s:      1,
		gamma:  0.75,
		beta:   0.95,
		alpha0: 0.2,
		alpha:  0.2,
		delta:  1.5,
		eta:    0.95,
	}
}

// balance returns the convergence condition criterion b for one iteration's
// statistics. The scheme's step sizes satisfy the condition while b <= 1.
func (c *stepControl) balance(st stepStats) float64 {
	return (2 * c.tau * c.sigma * st.product) / (c.gamma*c.sigma*st.uNorm + c.gamma*c.tau*st.qNorm)
}

// update inspects one iteration's statistics, adjusts tau and sigma in
// place, and returns the verdict together with the criterion value it acted
// on.
//
// A violation (b > 1) shrinks both step sizes by beta/b and resets the
// balancing rate. An accepted iteration rebalances instead: whichever
// residual dominates by more than delta gets its step size grown at the
// other's expense, with the rate alpha decaying every adjustment.
func (c *stepControl) update(st stepStats) (controlAction, float64) {
	b := c.balance(st)
	if b > 1 {
		c.tau = c.beta * c.tau / b
		c.sigma = c.beta * c.sigma / b
		c.alpha = c.alpha0
		if c.started {
			return controlWarn, b
		}
		return controlRestore, b
	}

	c.started = true
	switch {
	case st.resPrimal > st.resDual*c.s*c.delta:
		c.tau /= 1 - c.alpha
		c.sigma *= 1 - c.alpha
		c.alpha *= c.eta
	case st.resPrimal < st.resDual*c.s/c.delta:
		c.tau *= 1 - c.alpha
		c.sigma /= 1 - c.alpha
		c.alpha *= c.eta
	}
	return controlProceed, b
}
