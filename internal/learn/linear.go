package learn

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// #region l1-logistic

// LogisticConfig configures FitL1Logistic.
type LogisticConfig struct {
	C        float64 // inverse regularization strength
	MaxIter  int
	Tol      float64
	Balanced bool
}

// FitL1Logistic fits L1-penalized logistic regression with an unpenalized
// intercept by accelerated proximal gradient. Two classes give one
// coefficient vector (class 1 against class 0); more classes give one
// vector per class, each against the rest.
func FitL1Logistic(ctx context.Context, x [][]float64, y []int, classes int, cfg LogisticConfig) ([][]float64, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, errors.New("logistic: empty or mismatched input")
	}
	if cfg.C <= 0 {
		cfg.C = 1
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 1000
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-4
	}
	sw := make([]float64, n)
	cw := BalancedWeights(y, classes)
	for i := range sw {
		sw[i] = 1
		if cfg.Balanced {
			sw[i] = cw[y[i]]
		}
	}

	problems := classes
	if classes == 2 {
		problems = 1
	}
	out := make([][]float64, problems)
	for k := range problems {
		positive := k
		if classes == 2 {
			positive = 1
		}
		t := make([]float64, n)
		for i, c := range y {
			if c == positive {
				t[i] = 1
			}
		}
		w, err := fitBinaryL1(ctx, x, t, sw, cfg)
		if err != nil {
			return nil, fmt.Errorf("logistic class %d: %w", positive, err)
		}
		out[k] = w
	}
	return out, nil
}

// fitBinaryL1 minimizes sum_i sw_i*logloss_i/N + ||w||_1/(C*N).
func fitBinaryL1(ctx context.Context, x [][]float64, t, sw []float64, cfg LogisticConfig) ([]float64, error) {
	p := len(x[0])
	var lip, total float64
	for i, row := range x {
		lip += sw[i] * (floats.Dot(row, row) + 1)
		total += sw[i]
	}
	step := 1 / (0.25 * lip / total)
	lambda := 1 / (cfg.C * total)

	w := make([]float64, p)
	prev := make([]float64, p)
	z := make([]float64, p) // extrapolated point
	var b, prevB, zb float64
	grad := make([]float64, p)
	momentum := 1.0
	for iter := 0; iter < cfg.MaxIter; iter++ {
		if iter%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		clear(grad)
		var gb float64
		for i, row := range x {
			r := sw[i] * (sigmoid(floats.Dot(row, z)+zb) - t[i]) / total
			floats.AddScaled(grad, r, row)
			gb += r
		}
		copy(prev, w)
		prevB = b
		for j := range w {
			w[j] = softThreshold(z[j]-step*grad[j], step*lambda)
		}
		b = zb - step*gb

		next := (1 + math.Sqrt(1+4*momentum*momentum)) / 2
		beta := (momentum - 1) / next
		momentum = next
		var delta float64
		for j := range w {
			delta = math.Max(delta, math.Abs(w[j]-prev[j]))
			z[j] = w[j] + beta*(w[j]-prev[j])
		}
		zb = b + beta*(b-prevB)
		if iter > 0 && delta < cfg.Tol {
			break
		}
	}
	return w, nil
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	}
	return 0
}

// #endregion l1-logistic

// #region ridge

// FitRidge fits a ridge classifier: targets are +1 for the class and -1
// otherwise, features and targets are centered, and the penalized least
// squares system is solved in whichever of the primal or dual form is
// smaller. Two classes give one coefficient vector.
func FitRidge(x [][]float64, y []int, classes int, alpha float64) ([][]float64, error) {
	n := len(x)
	if n == 0 || len(y) != n {
		return nil, errors.New("ridge: empty or mismatched input")
	}
	p := len(x[0])
	xc := mat.NewDense(n, p, nil)
	for i, row := range x {
		xc.SetRow(i, row)
	}
	for j := range p {
		col := mat.Col(nil, j, xc)
		mean := floats.Sum(col) / float64(n)
		floats.AddConst(-mean, col)
		xc.SetCol(j, col)
	}

	targets := classes
	if classes == 2 {
		targets = 1
	}
	yc := mat.NewDense(n, targets, nil)
	for k := range targets {
		positive := k
		if classes == 2 {
			positive = 1
		}
		col := make([]float64, n)
		for i, c := range y {
			col[i] = -1
			if c == positive {
				col[i] = 1
			}
		}
		mean := floats.Sum(col) / float64(n)
		floats.AddConst(-mean, col)
		yc.SetCol(k, col)
	}

	var coef mat.Dense
	if p <= n {
		// (XᵀX + αI) w = Xᵀy
		var gram mat.SymDense
		gram.SymOuterK(1, xc.T())
		if err := solveShifted(&gram, alpha, mat.NewDense(p, targets, nil), func(rhs *mat.Dense) { rhs.Mul(xc.T(), yc) }, &coef); err != nil {
			return nil, err
		}
	} else {
		// w = Xᵀ (XXᵀ + αI)⁻¹ y
		var gram mat.SymDense
		gram.SymOuterK(1, xc)
		var dual mat.Dense
		if err := solveShifted(&gram, alpha, mat.NewDense(n, targets, nil), func(rhs *mat.Dense) { rhs.Copy(yc) }, &dual); err != nil {
			return nil, err
		}
		coef.Mul(xc.T(), &dual)
	}

	out := make([][]float64, targets)
	for k := range targets {
		out[k] = mat.Col(nil, k, &coef)
	}
	return out, nil
}

func solveShifted(gram *mat.SymDense, alpha float64, rhs *mat.Dense, fill func(*mat.Dense), dst *mat.Dense) error {
	size := gram.SymmetricDim()
	for i := range size {
		gram.SetSym(i, i, gram.At(i, i)+alpha)
	}
	fill(rhs)
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return errors.New("ridge: system is not positive definite")
	}
	if err := chol.SolveTo(dst, rhs); err != nil {
		return fmt.Errorf("ridge solve: %w", err)
	}
	return nil
}

// #endregion ridge
