package codec

import (
	"math"
	"testing"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func rotation(axis r3.Vec, angle float64) []float64 {
	return AxisAngle{Axis: axis, Angle: angle}.Matrix()
}

func assertFloatsNear(t *testing.T, want, got []float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "element %d", i)
	}
}

func TestMatrixToAxisAngle_Identity(t *testing.T) {
	aa := MatrixToAxisAngle([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	assert.Equal(t, r3.Vec{Y: 1}, aa.Axis)
	assert.Equal(t, 0.0, aa.Angle)
}

func TestMatrixToAxisAngle_QuarterTurnZ(t *testing.T) {
	aa := MatrixToAxisAngle([]float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	assert.InDelta(t, 0, aa.Axis.X, 1e-12)
	assert.InDelta(t, 0, aa.Axis.Y, 1e-12)
	assert.InDelta(t, 1, aa.Axis.Z, 1e-12)
	assert.InDelta(t, math.Pi/2, aa.Angle, 1e-12)
}

func TestMatrixToAxisAngle_RoundTrip(t *testing.T) {
	s2 := math.Sqrt2 / 2
	tests := []struct {
		name  string
		axis  r3.Vec
		angle float64
	}{
		{"x 30", r3.Vec{X: 1}, math.Pi / 6},
		{"y 90", r3.Vec{Y: 1}, math.Pi / 2},
		{"z -120", r3.Vec{Z: 1}, -2 * math.Pi / 3},
		{"oblique 170", r3.Unit(r3.Vec{X: 1, Y: 2, Z: 3}), 170 * math.Pi / 180},
		{"oblique small", r3.Unit(r3.Vec{X: -1, Y: 0.5, Z: 0.25}), 0.01},
		{"x 180", r3.Vec{X: 1}, math.Pi},
		{"y 180", r3.Vec{Y: 1}, math.Pi},
		{"z 180", r3.Vec{Z: 1}, math.Pi},
		{"xy 180", r3.Vec{X: s2, Y: s2}, math.Pi},
		{"x-y 180", r3.Vec{X: s2, Y: -s2}, math.Pi},
		{"off-axis 180", r3.Unit(r3.Vec{X: 1, Y: -2, Z: 2}), math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := rotation(tt.axis, tt.angle)
			aa := MatrixToAxisAngle(m)
			// half turns recover the axis through a square root of the diagonal
			assert.InDelta(t, 1, r3.Norm(aa.Axis), 1e-6)
			assertFloatsNear(t, m, aa.Matrix(), 1e-6)
		})
	}
}

func TestMatrixToAxisAngle_HalfTurnPicksSigns(t *testing.T) {
	// 180 degrees about (1,-1,0)/sqrt2; the all-positive candidate is wrong here
	m := []float64{
		0, -1, 0,
		-1, 0, 0,
		0, 0, -1,
	}
	aa := MatrixToAxisAngle(m)
	assert.Equal(t, math.Pi, aa.Angle)
	assert.InDelta(t, 0, aa.Axis.X+aa.Axis.Y, 1e-12)
	assertFloatsNear(t, m, aa.Matrix(), 1e-12)
}

func fullState(s *schema.Schema) *core.CharacterState {
	l := s.Layout
	cs := &core.CharacterState{Name: s.Character, Links: make([]core.LinkPosition, l.NumLinks)}
	for i := range cs.Links {
		cs.Links[i] = core.LinkPosition{
			P: []float64{float64(i) + 0.5, -1.25, 2},
			R: rotation(r3.Unit(r3.Vec{X: 1, Y: float64(i), Z: 1}), 0.25*float64(i+1)),
		}
	}
	ss := &core.SensorState{Q: make([]float64, l.NumJoints), U: make([]float64, l.NumJoints)}
	for j := range ss.Q {
		ss.Q[j] = 0.125 * float64(j)
		ss.U[j] = -4 * float64(j)
	}
	for i := 0; i < l.Force; i++ {
		ss.Force = append(ss.Force, []float64{1, 2, 3, 4, 5, 6})
	}
	for i := 0; i < l.RateGyro; i++ {
		ss.RateGyro = append(ss.RateGyro, []float64{0.5, 0.25, 0.125})
	}
	for i := 0; i < l.Accel; i++ {
		ss.Accel = append(ss.Accel, []float64{0, 0, 9.75})
	}
	for _, w := range l.RangeWidths {
		row := make([]float64, w)
		for k := range row {
			row[k] = float64(k) + 0.5
		}
		ss.Range = append(ss.Range, row)
	}
	cs.Sensors = ss
	cs.Command = make([]float64, l.NumJoints)
	cs.ServoState = make([]int32, l.NumJoints)
	for j := range cs.ServoState {
		cs.Command[j] = float64(j) * 1.5
		cs.ServoState[j] = int32(0x7fc00001 + j) // NaN bit patterns must survive
	}
	cs.PowerState = []float64{48, 2.5}
	return cs
}

func robotSchema(t *testing.T, storeAll bool) *schema.Schema {
	t.Helper()
	s, err := schema.Build(core.BodyInfo{
		Name: "robot",
		Links: []core.LinkInfo{
			{Name: "WAIST", JointID: -1, Sensors: []core.SensorInfo{{Name: "gyro", Type: core.SensorRateGyro}}},
			{Name: "LLEG", JointID: 0, Sensors: []core.SensorInfo{{Name: "lfs", Type: core.SensorForce}}},
			{Name: "RLEG", JointID: 1, Sensors: []core.SensorInfo{
				{Name: "acc", Type: core.SensorAcceleration},
				{Name: "scan", Type: core.SensorRange, SpecValues: []float64{0.6, 0.1}},
			}},
		},
	}, storeAll)
	require.NoError(t, err)
	return s
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := robotSchema(t, true)
	in := fullState(s)

	rec, err := Encode(s, 1.5, in, nil)
	require.NoError(t, err)
	require.Len(t, rec, s.Width())
	assert.Equal(t, float32(1.5), rec[0])

	tm, out, err := Decode(s, rec)
	require.NoError(t, err)
	assert.Equal(t, 1.5, tm)
	assert.Equal(t, in.Name, out.Name)
	require.Len(t, out.Links, len(in.Links))
	for i := range in.Links {
		assertFloatsNear(t, in.Links[i].P, out.Links[i].P, 1e-6)
		assertFloatsNear(t, in.Links[i].R, out.Links[i].R, 1e-6)
	}
	assert.Equal(t, in.Sensors.Q, out.Sensors.Q)
	assert.Equal(t, in.Sensors.U, out.Sensors.U)
	assert.Equal(t, in.Sensors.Force, out.Sensors.Force)
	assert.Equal(t, in.Sensors.RateGyro, out.Sensors.RateGyro)
	assert.Equal(t, in.Sensors.Accel, out.Sensors.Accel)
	assert.Equal(t, in.Sensors.Range, out.Sensors.Range)
	assert.Equal(t, in.Command, out.Command)
	assert.Equal(t, in.ServoState, out.ServoState)
	assert.Equal(t, in.PowerState, out.PowerState)
}

func TestEncodeDecode_ReducedStorage(t *testing.T) {
	s := robotSchema(t, false)
	in := fullState(s)

	rec, err := Encode(s, 0, in, make([]float32, 4))
	require.NoError(t, err)

	_, out, err := Decode(s, rec)
	require.NoError(t, err)
	require.Len(t, out.Links, 3)
	assert.True(t, out.Links[0].Available())
	assert.False(t, out.Links[1].Available())
	assert.False(t, out.Links[2].Available())
	assert.Equal(t, in.ServoState, out.ServoState)
}

func TestEncode_NilActuatorsAreZero(t *testing.T) {
	s := robotSchema(t, true)
	in := fullState(s)
	in.Command, in.ServoState, in.PowerState = nil, nil, nil

	rec, err := Encode(s, 0, in, nil)
	require.NoError(t, err)
	_, out, err := Decode(s, rec)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, out.Command)
	assert.Equal(t, []int32{0, 0}, out.ServoState)
}

func TestEncode_ShapeMismatch(t *testing.T) {
	s := robotSchema(t, true)
	in := fullState(s)
	in.Sensors.Q = in.Sensors.Q[:1]

	_, err := Encode(s, 0, in, nil)
	assert.ErrorIs(t, err, core.ErrSchemaMismatch)
}

func TestDecode_WrongWidth(t *testing.T) {
	s := robotSchema(t, true)
	_, _, err := Decode(s, make([]float32, s.Width()-1))
	assert.ErrorIs(t, err, core.ErrFormatMismatch)
}

func TestScalars_ServoAsInteger(t *testing.T) {
	s := robotSchema(t, true)
	in := fullState(s)
	in.ServoState = []int32{3, -7}

	rec, err := Encode(s, 2, in, nil)
	require.NoError(t, err)
	vals := Scalars(s, rec)

	names := s.ScalarNames()
	for i, n := range names {
		switch n {
		case "servoState[0]":
			assert.Equal(t, 3.0, vals[i])
		case "servoState[1]":
			assert.Equal(t, -7.0, vals[i])
		case "time":
			assert.Equal(t, 2.0, vals[i])
		}
	}
}
