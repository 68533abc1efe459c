package payout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// fitParams runs nonlinear least squares for the parametric models.
// Positivity is enforced by optimizing in log space; the initial guess is
// deterministic, derived from the top payout and a typical decay exponent
// near 1, so identical inputs always fit identical parameters.
func fitParams(model Model, xs, ys []float64) ([]float64, error) {
	init, decode := parameterization(model, xs, ys)

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			params := decode(theta)
			sse := 0.0
			for i, x := range xs {
				var pred float64
				switch model {
				case PowerLaw:
					pred = params[0] * math.Pow(x, -params[1])
				case Exponential:
					pred = params[0] * math.Exp(-params[1]*x)
				case Hybrid:
					pred = evalHybrid(params[0], params[1], params[2], x)
				}
				d := ys[i] - pred
				sse += d * d
			}
			if math.IsNaN(sse) || math.IsInf(sse, 0) {
				return math.MaxFloat64
			}
			return sse
		},
	}

	result, err := optimize.Minimize(problem, init, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCurveFit, err)
	}
	if result == nil || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, ErrCurveFit
	}

	params := decode(result.X)
	for _, p := range params {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return nil, ErrCurveFit
		}
	}
	return params, nil
}

// parameterization returns the log-space initial point and the decoder back
// to model parameters. The hybrid cutoff is kept inside the observed rank
// range via a logistic transform.
func parameterization(model Model, xs, ys []float64) (init []float64, decode func([]float64) []float64) {
	top := ys[0]
	if top <= 0 {
		top = 1
	}

	switch model {
	case PowerLaw:
		return []float64{math.Log(top), math.Log(1.0)}, func(theta []float64) []float64 {
			return []float64{math.Exp(theta[0]), math.Exp(theta[1])}
		}
	case Exponential:
		// Decay sized so the curve spans the observed rank range.
		span := xs[len(xs)-1] - xs[0]
		if span <= 0 {
			span = 1
		}
		b0 := 1.0 / span
		return []float64{math.Log(top), math.Log(b0)}, func(theta []float64) []float64 {
			return []float64{math.Exp(theta[0]), math.Exp(theta[1])}
		}
	default: // Hybrid
		lo, hi := xs[0], xs[len(xs)-1]
		if hi <= lo {
			hi = lo + 1
		}
		return []float64{math.Log(top), math.Log(1.0), 0}, func(theta []float64) []float64 {
			cutoff := lo + (hi-lo)/(1+math.Exp(-theta[2]))
			return []float64{math.Exp(theta[0]), math.Exp(theta[1]), cutoff}
		}
	}
}
