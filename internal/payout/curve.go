// Package payout fits parametric rank->payout curves for GPP contest
// structures and evaluates them at arbitrary ranks.
package payout

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Model selects the curve family.
type Model string

const (
	PowerLaw        Model = "power_law"
	Exponential     Model = "exponential"
	PiecewiseLinear Model = "piecewise_linear"
	Hybrid          Model = "hybrid"
)

var (
	ErrNotFitted = errors.New("payout curve has not been fitted")
	ErrCurveFit  = errors.New("payout curve fit did not converge")
)

// Curve is a fitted rank->payout function. Predictions are clamped to >= 0.
type Curve struct {
	model  Model
	params []float64 // power/exp: [a, b]; hybrid: [a, b, cutoff]
	xs     []float64 // fit ranks, ascending (piecewise + diagnostics)
	ys     []float64
	pl     interp.PiecewiseLinear
	fitted bool

	RMSE float64
	R2   float64
}

// Fit fits the chosen model to observed (rank, payout) pairs via nonlinear
// least squares with positivity bounds on the parameters.
func Fit(ranks []int, payouts []float64, model Model) (*Curve, error) {
	if len(ranks) < 2 || len(ranks) != len(payouts) {
		return nil, fmt.Errorf("need at least 2 rank/payout pairs of equal length, got %d/%d", len(ranks), len(payouts))
	}
	pts := make([][2]float64, len(ranks))
	for i, r := range ranks {
		if r < 1 {
			return nil, fmt.Errorf("ranks must be >= 1, got %d", r)
		}
		if payouts[i] < 0 {
			return nil, fmt.Errorf("payouts must be non-negative, got %v", payouts[i])
		}
		pts[i] = [2]float64{float64(r), payouts[i]}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i][0] < pts[j][0] })

	c := &Curve{model: model}
	c.xs = make([]float64, len(pts))
	c.ys = make([]float64, len(pts))
	for i, p := range pts {
		if i > 0 && p[0] == c.xs[i-1] {
			return nil, fmt.Errorf("duplicate rank %v in payout table", p[0])
		}
		c.xs[i] = p[0]
		c.ys[i] = p[1]
	}

	switch model {
	case PiecewiseLinear:
		if err := c.pl.Fit(c.xs, c.ys); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCurveFit, err)
		}
	case PowerLaw, Exponential, Hybrid:
		params, err := fitParams(model, c.xs, c.ys)
		if err != nil {
			return nil, err
		}
		c.params = params
	default:
		return nil, fmt.Errorf("unknown payout model %q", model)
	}

	c.fitted = true
	c.computeDiagnostics()
	return c, nil
}

// Predict evaluates the fitted curve at an integer rank, clamped to >= 0.
func (c *Curve) Predict(rank int) (float64, error) {
	if !c.fitted {
		return 0, ErrNotFitted
	}
	v := c.eval(float64(rank))
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	return v, nil
}

// Model returns the fitted curve family.
func (c *Curve) Model() Model { return c.model }

// Params returns the fitted parameters (nil for the piecewise model).
func (c *Curve) Params() []float64 { return c.params }

func (c *Curve) eval(r float64) float64 {
	switch c.model {
	case PowerLaw:
		return c.params[0] * math.Pow(r, -c.params[1])
	case Exponential:
		return c.params[0] * math.Exp(-c.params[1]*r)
	case Hybrid:
		return evalHybrid(c.params[0], c.params[1], c.params[2], r)
	case PiecewiseLinear:
		return c.evalPiecewise(r)
	}
	return 0
}

// evalHybrid is a power law up to the cutoff and a tangent-matched linear
// extension past it, so the curve is continuous (value and slope) at the
// cutoff.
func evalHybrid(a, b, cutoff, r float64) float64 {
	if r <= cutoff {
		return a * math.Pow(r, -b)
	}
	fc := a * math.Pow(cutoff, -b)
	slope := -a * b * math.Pow(cutoff, -b-1)
	return fc + slope*(r-cutoff)
}

// evalPiecewise interpolates between fit points. The interpolant holds
// endpoint values outside the fitted range, but a contest ranks far past the
// last paid knot, so out-of-range ranks extrapolate along the terminal
// segments instead.
func (c *Curve) evalPiecewise(r float64) float64 {
	xs, ys := c.xs, c.ys
	n := len(xs)
	if r < xs[0] {
		slope := (ys[1] - ys[0]) / (xs[1] - xs[0])
		return ys[0] + slope*(r-xs[0])
	}
	if r > xs[n-1] {
		slope := (ys[n-1] - ys[n-2]) / (xs[n-1] - xs[n-2])
		return ys[n-1] + slope*(r-xs[n-1])
	}
	return c.pl.Predict(r)
}

func (c *Curve) computeDiagnostics() {
	sse, sst := 0.0, 0.0
	mean := 0.0
	for _, y := range c.ys {
		mean += y
	}
	mean /= float64(len(c.ys))
	for i, x := range c.xs {
		pred := c.eval(x)
		if pred < 0 {
			pred = 0
		}
		d := c.ys[i] - pred
		sse += d * d
		t := c.ys[i] - mean
		sst += t * t
	}
	c.RMSE = math.Sqrt(sse / float64(len(c.ys)))
	if sst > 0 {
		c.R2 = 1 - sse/sst
	} else {
		c.R2 = 1
	}
}
