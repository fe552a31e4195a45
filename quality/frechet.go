package quality

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// FrechetDistance computes the Fréchet distance between Gaussian fits of
// two embedding sample sets:
//
//	||mu1 - mu2||^2 + tr(S1 + S2 - 2*sqrt(S1*S2))
//
// Both sets must contain at least two samples of equal dimension.
func FrechetDistance(set1, set2 [][]float64) (float64, error) {
	mu1, sigma1, err := gaussianFit(set1)
	if err != nil {
		return 0, err
	}
	mu2, sigma2, err := gaussianFit(set2)
	if err != nil {
		return 0, err
	}
	if len(mu1) != len(mu2) {
		return 0, &AssessmentError{Reason: "embedding dimensions differ"}
	}

	diff := make([]float64, len(mu1))
	floats.SubTo(diff, mu1, mu2)
	meanTerm := floats.Dot(diff, diff)

	// tr(sqrt(S1*S2)) via the symmetric form: with A = sqrt(S1), the
	// eigenvalues of A*S2*A match those of S1*S2 and A*S2*A is symmetric.
	sqrt1 := symSqrt(sigma1)
	var inner, product mat.Dense
	inner.Mul(sqrt1, sigma2)
	product.Mul(&inner, sqrt1)
	covTerm := trace(sigma1) + trace(sigma2) - 2*traceSqrtSym(&product)

	d := meanTerm + covTerm
	if d < 0 {
		// numerical jitter around zero for near-identical distributions
		d = 0
	}
	return d, nil
}

// gaussianFit returns the sample mean vector and covariance matrix.
func gaussianFit(samples [][]float64) ([]float64, *mat.SymDense, error) {
	if len(samples) < 2 {
		return nil, nil, &AssessmentError{Reason: "need at least two embedding samples for a Gaussian fit"}
	}
	dim := len(samples[0])
	if dim == 0 {
		return nil, nil, &AssessmentError{Reason: "empty embedding vector"}
	}

	flat := make([]float64, 0, len(samples)*dim)
	for _, s := range samples {
		if len(s) != dim {
			return nil, nil, &AssessmentError{Reason: "ragged embedding set"}
		}
		flat = append(flat, s...)
	}
	data := mat.NewDense(len(samples), dim, flat)

	mu := make([]float64, dim)
	col := make([]float64, len(samples))
	for j := 0; j < dim; j++ {
		mat.Col(col, j, data)
		mu[j] = stat.Mean(col, nil)
	}

	sigma := mat.NewSymDense(dim, nil)
	stat.CovarianceMatrix(sigma, data, nil)
	return mu, sigma, nil
}

// symSqrt computes the principal square root of a symmetric PSD matrix via
// eigendecomposition. Negative eigenvalues from numerical noise clamp to 0.
func symSqrt(s *mat.SymDense) *mat.Dense {
	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		// fall back to the zero matrix; caller's trace terms degrade gracefully
		n, _ := s.Dims()
		return mat.NewDense(n, n, nil)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(vals)
	diag := mat.NewDiagDense(n, nil)
	for i, v := range vals {
		if v < 0 {
			v = 0
		}
		diag.SetDiag(i, math.Sqrt(v))
	}

	var tmp, out mat.Dense
	tmp.Mul(&vecs, diag)
	out.Mul(&tmp, vecs.T())
	return &out
}

// traceSqrtSym returns the trace of the square root of a (nearly) symmetric
// PSD matrix, summing the square roots of its clamped eigenvalues.
func traceSqrtSym(m *mat.Dense) float64 {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return 0
	}
	var sum float64
	for _, v := range eig.Values(nil) {
		if v > 0 {
			sum += math.Sqrt(v)
		}
	}
	return sum
}

func trace(s *mat.SymDense) float64 {
	n, _ := s.Dims()
	var sum float64
	for i := 0; i < n; i++ {
		sum += s.At(i, i)
	}
	return sum
}
