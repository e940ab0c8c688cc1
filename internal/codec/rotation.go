package codec

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const rotationEps = 1.0e-6

// degenerate-case sign candidates, tried in this order
var axisSigns = [8][3]float64{
	{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {1, -1, -1},
	{-1, 1, 1}, {-1, 1, -1}, {-1, -1, 1}, {-1, -1, -1},
}

// AxisAngle is a rotation of Angle radians about the unit vector Axis.
type AxisAngle struct {
	Axis  r3.Vec
	Angle float64
}

// MatrixToAxisAngle converts a row-major 3x3 rotation matrix.
// The identity maps to axis (0,1,0) and angle 0. Half turns, where the skew
// part vanishes, recover the axis from the diagonal and pick the sign
// combination that best reproduces m.
func MatrixToAxisAngle(r []float64) AxisAngle {
	m := mat.NewDense(3, 3, r)
	v := r3.Vec{
		X: m.At(2, 1) - m.At(1, 2),
		Y: m.At(0, 2) - m.At(2, 0),
		Z: m.At(1, 0) - m.At(0, 1),
	}
	mag := r3.Norm2(v)
	cos := 0.5 * (mat.Trace(m) - 1.0)

	if mag > rotationEps {
		return AxisAngle{
			Axis:  r3.Unit(v),
			Angle: math.Atan2(0.5*math.Sqrt(mag), cos),
		}
	}
	if math.Abs(cos-1.0) < rotationEps {
		return AxisAngle{Axis: r3.Vec{Y: 1}}
	}

	diag := [3]float64{m.At(0, 0) + 1, m.At(1, 1) + 1, m.At(2, 2) + 1}
	for i, d := range diag {
		if d < 0 && d > -rotationEps {
			diag[i] = 0
		}
	}
	base := r3.Vec{
		X: math.Sqrt(diag[0] * 0.5),
		Y: math.Sqrt(diag[1] * 0.5),
		Z: math.Sqrt(diag[2] * 0.5),
	}

	best := AxisAngle{Axis: base, Angle: math.Pi}
	bestErr := math.Inf(1)
	var diff mat.Dense
	for _, s := range axisSigns {
		cand := AxisAngle{
			Axis:  r3.Vec{X: s[0] * base.X, Y: s[1] * base.Y, Z: s[2] * base.Z},
			Angle: math.Pi,
		}
		diff.Sub(m, cand.matrix())
		n := mat.Norm(&diff, 2)
		if e := n * n; e < bestErr {
			best, bestErr = cand, e
		}
	}
	return best
}

// Matrix returns the row-major rotation matrix of a (Rodrigues' formula).
func (a AxisAngle) Matrix() []float64 {
	out := make([]float64, 9)
	m := a.matrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = m.At(i, j)
		}
	}
	return out
}

func (a AxisAngle) matrix() *mat.Dense {
	k := a.Axis
	if n := r3.Norm(k); n > 0 {
		k = r3.Scale(1/n, k)
	}
	skew := mat.NewDense(3, 3, []float64{
		0, -k.Z, k.Y,
		k.Z, 0, -k.X,
		-k.Y, k.X, 0,
	})
	var sq mat.Dense
	sq.Mul(skew, skew)

	sin, cos := math.Sincos(a.Angle)
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	var term mat.Dense
	term.Scale(sin, skew)
	r.Add(r, &term)
	term.Scale(1-cos, &sq)
	r.Add(r, &term)
	return r
}
