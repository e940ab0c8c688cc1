package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OCAP2/worldlog/pkg/core"
)

// record sections in the order they appear
const (
	phaseLinks = iota
	phaseJoints
	phaseForce
	phaseGyro
	phaseAccel
	phaseRange
	phaseActuators
)

// Parse rebuilds a schema from a stored field list. numLinks is the link
// count of the body; records in reduced mode store fewer poses than that.
func Parse(character string, numLinks int, fields []Field) (*Schema, error) {
	if len(fields) == 0 || fields[0].Name != TimeField || fields[0].Width != 1 {
		return nil, fmt.Errorf("%w: %s: record must start with %q", core.ErrFormatMismatch, character, TimeField)
	}
	b := &builder{s: Schema{Character: character}}
	b.add(TimeField, 1, false)

	phase := phaseLinks
	enter := func(p int, name string) error {
		if p < phase {
			return fmt.Errorf("%w: %s: field %q out of order", core.ErrFormatMismatch, character, name)
		}
		phase = p
		return nil
	}
	expectPair := func(i int, suffix string, width int) (string, error) {
		if i+1 >= len(fields) {
			return "", fmt.Errorf("%w: %s: %q not followed by %s", core.ErrFormatMismatch, character, fields[i].Name, suffix)
		}
		prefix := strings.TrimSuffix(fields[i].Name, "."+fieldSuffix(fields[i].Name))
		next := fields[i+1]
		if next.Name != prefix+"."+suffix || next.Width != width {
			return "", fmt.Errorf("%w: %s: expected %s.%s after %q", core.ErrFormatMismatch, character, prefix, suffix, fields[i].Name)
		}
		return prefix, nil
	}

	for i := 1; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f.Name == CommandField:
			if err := enter(phaseActuators, f.Name); err != nil {
				return nil, err
			}
			if i+2 >= len(fields) || fields[i+1].Name != ServoStateField || fields[i+2].Name != PowerStateField ||
				fields[i+1].Width != f.Width || fields[i+2].Width != 2 || f.Width != b.s.Layout.NumJoints {
				return nil, fmt.Errorf("%w: %s: malformed actuator block", core.ErrFormatMismatch, character)
			}
			b.addActuators(f.Width)
			i += 2
			continue
		}

		suffix := fieldSuffix(f.Name)
		switch suffix {
		case suffixTranslation:
			if err := enter(phaseLinks, f.Name); err != nil {
				return nil, err
			}
			if f.Width != 3 {
				return nil, fmt.Errorf("%w: %s: %q width %d", core.ErrFormatMismatch, character, f.Name, f.Width)
			}
			prefix, err := expectPair(i, suffixRotation, 4)
			if err != nil {
				return nil, err
			}
			b.add(prefix+"."+suffixTranslation, 3, true)
			b.add(prefix+"."+suffixRotation, 4, true)
			b.s.Layout.StoredLinks++
			i++
		case suffixAngle:
			if err := enter(phaseJoints, f.Name); err != nil {
				return nil, err
			}
			prefix, err := expectPair(i, suffixJointTorque, 1)
			if err != nil {
				return nil, err
			}
			b.add(prefix+"."+suffixAngle, 1, false)
			b.add(prefix+"."+suffixJointTorque, 1, false)
			b.s.Layout.NumJoints++
			i++
		case suffixForce:
			if err := enter(phaseForce, f.Name); err != nil {
				return nil, err
			}
			prefix, err := expectPair(i, suffixTorque, 3)
			if err != nil {
				return nil, err
			}
			b.addForce(prefix)
			i++
		case suffixAngularVelocity:
			if err := enter(phaseGyro, f.Name); err != nil {
				return nil, err
			}
			b.addGyro(strings.TrimSuffix(f.Name, "."+suffix))
		case suffixAcceleration:
			if err := enter(phaseAccel, f.Name); err != nil {
				return nil, err
			}
			b.addAccel(strings.TrimSuffix(f.Name, "."+suffix))
		case suffixRange:
			if err := enter(phaseRange, f.Name); err != nil {
				return nil, err
			}
			b.addRange(strings.TrimSuffix(f.Name, "."+suffix), f.Width)
		default:
			return nil, fmt.Errorf("%w: %s: unknown field %q", core.ErrFormatMismatch, character, f.Name)
		}
	}

	switch {
	case numLinks == 0:
		numLinks = b.s.Layout.StoredLinks
	case numLinks < b.s.Layout.StoredLinks:
		return nil, fmt.Errorf("%w: %s: %d link poses stored for %d links", core.ErrFormatMismatch, character, b.s.Layout.StoredLinks, numLinks)
	}
	b.s.Layout.NumLinks = numLinks

	s := b.done()
	if !s.fieldsMatch(fields) {
		return nil, fmt.Errorf("%w: %s: field list does not match its layout", core.ErrFormatMismatch, character)
	}
	return s, nil
}

func (s *Schema) fieldsMatch(fields []Field) bool {
	if len(fields) != len(s.Fields) {
		return false
	}
	for i := range fields {
		if fields[i] != s.Fields[i] {
			return false
		}
	}
	return true
}

func fieldSuffix(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// Infer derives a schema from the shape of a live character state, for
// characters that were never registered with a body description. Links and
// sensors get generated names.
func Infer(cs *core.CharacterState, storeAllPositions bool) (*Schema, error) {
	if cs == nil || cs.Name == "" {
		return nil, fmt.Errorf("%w: character state has no name", core.ErrSchemaMismatch)
	}
	b := &builder{s: Schema{Character: cs.Name}}
	b.s.Layout.NumLinks = len(cs.Links)
	b.add(TimeField, 1, false)

	stored := len(cs.Links)
	if !storeAllPositions && stored > 1 {
		stored = 1
	}
	b.s.Layout.StoredLinks = stored
	for i := 0; i < stored; i++ {
		name := "link" + strconv.Itoa(i)
		b.add(name+"."+suffixTranslation, 3, true)
		b.add(name+"."+suffixRotation, 4, true)
	}

	joints := 0
	if ss := cs.Sensors; ss != nil {
		joints = len(ss.Q)
		for i := 0; i < joints; i++ {
			name := "joint" + strconv.Itoa(i)
			b.add(name+"."+suffixAngle, 1, false)
			b.add(name+"."+suffixJointTorque, 1, false)
		}
		b.s.Layout.NumJoints = joints
		for i := range ss.Force {
			b.addForce("force" + strconv.Itoa(i))
		}
		for i := range ss.RateGyro {
			b.addGyro("gyro" + strconv.Itoa(i))
		}
		for i := range ss.Accel {
			b.addAccel("accel" + strconv.Itoa(i))
		}
		for i, r := range ss.Range {
			b.addRange("range"+strconv.Itoa(i), len(r))
		}
	}
	b.addActuators(joints)

	s := b.done()
	if err := s.Check(cs); err != nil {
		return nil, err
	}
	return s, nil
}

// Check verifies that a live state has the shape this schema records.
// Nil actuator slices are accepted and recorded as zeros.
func (s *Schema) Check(cs *core.CharacterState) error {
	l := s.Layout
	if cs == nil {
		return fmt.Errorf("%w: %s: missing state", core.ErrSchemaMismatch, s.Character)
	}
	if len(cs.Links) != l.NumLinks {
		return mismatch(s.Character, "links", l.NumLinks, len(cs.Links))
	}
	for i := 0; i < l.StoredLinks; i++ {
		if len(cs.Links[i].P) != 3 || len(cs.Links[i].R) != 9 {
			return fmt.Errorf("%w: %s: link %d pose is not 3+9 values", core.ErrSchemaMismatch, s.Character, i)
		}
	}

	ss := cs.Sensors
	if !l.HasSensorState() {
		if ss != nil && (len(ss.Q)+len(ss.Force)+len(ss.RateGyro)+len(ss.Accel)+len(ss.Range)) > 0 {
			return fmt.Errorf("%w: %s: unexpected sensor data", core.ErrSchemaMismatch, s.Character)
		}
	} else {
		if ss == nil {
			return fmt.Errorf("%w: %s: missing sensor state", core.ErrSchemaMismatch, s.Character)
		}
		if len(ss.Q) != l.NumJoints || len(ss.U) != l.NumJoints {
			return mismatch(s.Character, "joints", l.NumJoints, len(ss.Q))
		}
		if err := checkRows(s.Character, "force", ss.Force, l.Force, 6); err != nil {
			return err
		}
		if err := checkRows(s.Character, "rateGyro", ss.RateGyro, l.RateGyro, 3); err != nil {
			return err
		}
		if err := checkRows(s.Character, "accel", ss.Accel, l.Accel, 3); err != nil {
			return err
		}
		if len(ss.Range) != len(l.RangeWidths) {
			return mismatch(s.Character, "range sensors", len(l.RangeWidths), len(ss.Range))
		}
		for i, w := range l.RangeWidths {
			if len(ss.Range[i]) != w {
				return mismatch(s.Character, "range "+strconv.Itoa(i)+" beams", w, len(ss.Range[i]))
			}
		}
	}

	if !l.Actuators {
		if len(cs.Command)+len(cs.ServoState)+len(cs.PowerState) > 0 {
			return fmt.Errorf("%w: %s: unexpected actuator data", core.ErrSchemaMismatch, s.Character)
		}
		return nil
	}
	if cs.Command != nil && len(cs.Command) != l.NumJoints {
		return mismatch(s.Character, "command", l.NumJoints, len(cs.Command))
	}
	if cs.ServoState != nil && len(cs.ServoState) != l.NumJoints {
		return mismatch(s.Character, "servoState", l.NumJoints, len(cs.ServoState))
	}
	if cs.PowerState != nil && len(cs.PowerState) != 2 {
		return mismatch(s.Character, "powerState", 2, len(cs.PowerState))
	}
	return nil
}

func checkRows(character, what string, rows [][]float64, count, width int) error {
	if len(rows) != count {
		return mismatch(character, what+" sensors", count, len(rows))
	}
	for i, r := range rows {
		if len(r) != width {
			return mismatch(character, what+" "+strconv.Itoa(i)+" channels", width, len(r))
		}
	}
	return nil
}

func mismatch(character, what string, want, got int) error {
	return fmt.Errorf("%w: %s: %s: want %d, got %d", core.ErrSchemaMismatch, character, what, want, got)
}
