// Copyright 2026 The go-tnv Authors. SPDX-License-Identifier: Apache-2.0

package tnv

import (
	"math"
	"testing"
)

func TestStepControlDefaults(t *testing.T) {
	c := newStepControl()
	if c.tau != 0.5 || c.sigma != 0.5 || c.theta != 1 {
		t.Errorf("step sizes = (%v, %v, %v), want (0.5, 0.5, 1)", c.tau, c.sigma, c.theta)
	}
	if c.started {
		t.Error("controller must start unstarted")
	}
}

func TestStepControlUpdate(t *testing.T) {
	// With tau = sigma = 0.5 and unorm = qnorm = 1:
	// b = (2*0.25*product) / (0.75*0.5*1 + 0.75*0.5*1) = product / 1.5.
	tests := []struct {
		name        string
		pre         func(c *stepControl)
		st          stepStats
		wantAction  controlAction
		wantBalance float64
		wantTau     float64
		wantSigma   float64
		wantAlpha   float64
		wantStarted bool
	}{
		{
			name:        "violation before first accepted iteration restores",
			st:          stepStats{product: 10, uNorm: 1, qNorm: 1},
			wantAction:  controlRestore,
			wantBalance: 20.0 / 3,
			wantTau:     0.07125, // beta*tau/b = 0.95*0.5/(20/3)
			wantSigma:   0.07125,
			wantAlpha:   0.2,
			wantStarted: false,
		},
		{
			name: "violation after accepted iteration only warns",
			pre: func(c *stepControl) {
				c.started = true
				c.alpha = 0.1
			},
			st:          stepStats{product: 10, uNorm: 1, qNorm: 1},
			wantAction:  controlWarn,
			wantBalance: 20.0 / 3,
			wantTau:     0.07125,
			wantSigma:   0.07125,
			wantAlpha:   0.2, // reset to alpha0
			wantStarted: true,
		},
		{
			name:        "balanced residuals leave step sizes alone",
			st:          stepStats{resPrimal: 1, resDual: 1, product: 1, uNorm: 100, qNorm: 100},
			wantAction:  controlProceed,
			wantBalance: 1.0 / 150,
			wantTau:     0.5,
			wantSigma:   0.5,
			wantAlpha:   0.2,
			wantStarted: true,
		},
		{
			name:        "dominant primal residual grows tau",
			st:          stepStats{resPrimal: 10, resDual: 1, product: 1, uNorm: 100, qNorm: 100},
			wantAction:  controlProceed,
			wantBalance: 1.0 / 150,
			wantTau:     0.625, // 0.5/(1-0.2)
			wantSigma:   0.4,   // 0.5*(1-0.2)
			wantAlpha:   0.19,  // 0.2*0.95
			wantStarted: true,
		},
		{
			name:        "dominant dual residual grows sigma",
			st:          stepStats{resPrimal: 0.1, resDual: 1, product: 1, uNorm: 100, qNorm: 100},
			wantAction:  controlProceed,
			wantBalance: 1.0 / 150,
			wantTau:     0.4,
			wantSigma:   0.625,
			wantAlpha:   0.19,
			wantStarted: true,
		},
		{
			name:        "all-zero round is accepted",
			st:          stepStats{},
			wantAction:  controlProceed,
			wantBalance: math.NaN(), // 0/0; not a violation
			wantTau:     0.5,
			wantSigma:   0.5,
			wantAlpha:   0.2,
			wantStarted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStepControl()
			if tt.pre != nil {
				tt.pre(c)
			}

			action, b := c.update(tt.st)

			if action != tt.wantAction {
				t.Errorf("action = %v, want %v", action, tt.wantAction)
			}
			if math.IsNaN(tt.wantBalance) {
				if !math.IsNaN(b) {
					t.Errorf("balance = %v, want NaN", b)
				}
			} else if math.Abs(b-tt.wantBalance) > 1e-12 {
				t.Errorf("balance = %v, want %v", b, tt.wantBalance)
			}
			if math.Abs(c.tau-tt.wantTau) > 1e-12 {
				t.Errorf("tau = %v, want %v", c.tau, tt.wantTau)
			}
			if math.Abs(c.sigma-tt.wantSigma) > 1e-12 {
				t.Errorf("sigma = %v, want %v", c.sigma, tt.wantSigma)
			}
			if math.Abs(c.alpha-tt.wantAlpha) > 1e-12 {
				t.Errorf("alpha = %v, want %v", c.alpha, tt.wantAlpha)
			}
			if c.started != tt.wantStarted {
				t.Errorf("started = %v, want %v", c.started, tt.wantStarted)
			}
		})
	}
}

// TestStepControlAlphaDecay verifies the balancing rate keeps decaying over
// consecutive imbalanced iterations, so adjustments calm down over time.
func TestStepControlAlphaDecay(t *testing.T) {
	c := newStepControl()
	st := stepStats{resPrimal: 10, resDual: 1, product: 1, uNorm: 100, qNorm: 100}

	alpha := c.alpha
	for i := range 5 {
		if action, _ := c.update(st); action != controlProceed {
			t.Fatalf("iteration %d: action = %v, want controlProceed", i, action)
		}
		if c.alpha >= alpha {
			t.Fatalf("iteration %d: alpha = %v, want < %v", i, c.alpha, alpha)
		}
		alpha = c.alpha
	}
}
