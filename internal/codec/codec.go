// Package codec packs character states into fixed-width float32 records and back.
package codec

import (
	"fmt"
	"math"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

// Encode writes the state of one character at time t into buf, growing it
// to the schema width if needed, and returns the record.
// Nil actuator slices are written as zeros.
func Encode(s *schema.Schema, t float64, cs *core.CharacterState, buf []float32) ([]float32, error) {
	if err := s.Check(cs); err != nil {
		return nil, err
	}
	if cap(buf) < s.Width() {
		buf = make([]float32, s.Width())
	}
	buf = buf[:s.Width()]

	l := s.Layout
	w := writer{buf: buf}
	w.put(t)
	for i := 0; i < l.StoredLinks; i++ {
		link := cs.Links[i]
		w.put(link.P...)
		aa := MatrixToAxisAngle(link.R)
		w.put(aa.Axis.X, aa.Axis.Y, aa.Axis.Z, aa.Angle)
	}
	if l.HasSensorState() {
		ss := cs.Sensors
		for j := 0; j < l.NumJoints; j++ {
			w.put(ss.Q[j], ss.U[j])
		}
		w.rows(ss.Force)
		w.rows(ss.RateGyro)
		w.rows(ss.Accel)
		w.rows(ss.Range)
	}
	if l.Actuators {
		w.putOrZero(cs.Command, l.NumJoints)
		for j := 0; j < l.NumJoints; j++ {
			var v int32
			if cs.ServoState != nil {
				v = cs.ServoState[j]
			}
			w.buf[w.k] = math.Float32frombits(uint32(v))
			w.k++
		}
		w.putOrZero(cs.PowerState, 2)
	}
	if w.k != len(buf) {
		return nil, fmt.Errorf("%w: %s: encoded %d of %d slots", core.ErrSchemaMismatch, s.Character, w.k, len(buf))
	}
	return buf, nil
}

// Decode is the inverse of Encode. Links whose pose is not stored come back
// with nil P and R.
func Decode(s *schema.Schema, rec []float32) (float64, *core.CharacterState, error) {
	if len(rec) != s.Width() {
		return 0, nil, fmt.Errorf("%w: %s: record has %d slots, want %d", core.ErrFormatMismatch, s.Character, len(rec), s.Width())
	}
	l := s.Layout
	r := reader{rec: rec}
	t := r.next()

	cs := &core.CharacterState{
		Name:  s.Character,
		Links: make([]core.LinkPosition, l.NumLinks),
	}
	for i := 0; i < l.StoredLinks; i++ {
		p := r.take(3)
		aa := AxisAngle{
			Axis:  r3.Vec{X: r.next(), Y: r.next(), Z: r.next()},
			Angle: r.next(),
		}
		cs.Links[i] = core.LinkPosition{P: p, R: aa.Matrix()}
	}
	if l.HasSensorState() {
		ss := &core.SensorState{
			Q: make([]float64, l.NumJoints),
			U: make([]float64, l.NumJoints),
		}
		for j := 0; j < l.NumJoints; j++ {
			ss.Q[j] = r.next()
			ss.U[j] = r.next()
		}
		ss.Force = r.rows(l.Force, 6)
		ss.RateGyro = r.rows(l.RateGyro, 3)
		ss.Accel = r.rows(l.Accel, 3)
		if len(l.RangeWidths) > 0 {
			ss.Range = make([][]float64, len(l.RangeWidths))
			for i, w := range l.RangeWidths {
				ss.Range[i] = r.take(w)
			}
		}
		cs.Sensors = ss
	}
	if l.Actuators {
		cs.Command = r.take(l.NumJoints)
		cs.ServoState = make([]int32, l.NumJoints)
		for j := range cs.ServoState {
			cs.ServoState[j] = int32(math.Float32bits(rec[r.k]))
			r.k++
		}
		cs.PowerState = r.take(2)
	}
	return t, cs, nil
}

// Time returns the time stored in the leading slot of a record.
func Time(rec []float32) float64 {
	if len(rec) == 0 {
		return 0
	}
	return float64(rec[0])
}

// Scalars returns the record as float64 values, servo slots as their integer value.
func Scalars(s *schema.Schema, rec []float32) []float64 {
	packed := s.PackedSlots()
	out := make([]float64, len(rec))
	for i, v := range rec {
		if i < len(packed) && packed[i] {
			out[i] = float64(int32(math.Float32bits(v)))
			continue
		}
		out[i] = float64(v)
	}
	return out
}

type writer struct {
	buf []float32
	k   int
}

func (w *writer) put(vals ...float64) {
	for _, v := range vals {
		w.buf[w.k] = float32(v)
		w.k++
	}
}

func (w *writer) putOrZero(vals []float64, n int) {
	if vals == nil {
		for i := 0; i < n; i++ {
			w.buf[w.k] = 0
			w.k++
		}
		return
	}
	w.put(vals...)
}

func (w *writer) rows(rows [][]float64) {
	for _, row := range rows {
		w.put(row...)
	}
}

type reader struct {
	rec []float32
	k   int
}

func (r *reader) next() float64 {
	v := float64(r.rec[r.k])
	r.k++
	return v
}

func (r *reader) take(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r.next()
	}
	return out
}

func (r *reader) rows(count, width int) [][]float64 {
	if count == 0 {
		return nil
	}
	out := make([][]float64, count)
	for i := range out {
		out[i] = r.take(width)
	}
	return out
}
