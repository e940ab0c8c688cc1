// Package schema describes the fixed per-tick record layout of a character.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/OCAP2/worldlog/pkg/core"
)

// Well-known field names and suffixes.
const (
	TimeField       = "time"
	CommandField    = "command"
	ServoStateField = "servoState"
	PowerStateField = "powerState"

	suffixTranslation     = "translation"
	suffixRotation        = "rotation"
	suffixAngle           = "angle"
	suffixJointTorque     = "jointTorque"
	suffixForce           = "force"
	suffixTorque          = "torque"
	suffixAngularVelocity = "angularVelocity"
	suffixAcceleration    = "acceleration"
	suffixRange           = "range"
)

// Field is one named entry of a record. Width is the number of float32 slots
// it occupies; Vector distinguishes float[1] from a plain float.
type Field struct {
	Name   string
	Width  int
	Vector bool
}

// Format renders the field type as stored in archives ("float" or "float[N]").
func (f Field) Format() string {
	if !f.Vector {
		return "float"
	}
	return "float[" + strconv.Itoa(f.Width) + "]"
}

// Packed reports whether the field stores integer bit patterns instead of floats.
func (f Field) Packed() bool {
	return f.Name == ServoStateField
}

type fieldJSON struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(fieldJSON{Name: f.Name, Format: f.Format()})
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	width, vector, err := ParseFormat(raw.Format)
	if err != nil {
		return fmt.Errorf("field %q: %w", raw.Name, err)
	}
	*f = Field{Name: raw.Name, Width: width, Vector: vector}
	return nil
}

// ParseFormat parses "float" or "float[N]".
func ParseFormat(s string) (width int, vector bool, err error) {
	if s == "float" {
		return 1, false, nil
	}
	if !strings.HasPrefix(s, "float[") || !strings.HasSuffix(s, "]") {
		return 0, false, fmt.Errorf("%w: unknown field format %q", core.ErrFormatMismatch, s)
	}
	n, err := strconv.Atoi(s[len("float[") : len(s)-1])
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: bad vector width in %q", core.ErrFormatMismatch, s)
	}
	return n, true, nil
}

// Layout holds the counts the codec needs to walk a record.
type Layout struct {
	NumLinks    int   `json:"numLinks"`
	StoredLinks int   `json:"storedLinks"`
	NumJoints   int   `json:"numJoints"`
	Force       int   `json:"force"`
	RateGyro    int   `json:"rateGyro"`
	Accel       int   `json:"accel"`
	RangeWidths []int `json:"rangeWidths,omitempty"`
	Actuators   bool  `json:"actuators"`
}

// HasSensorState reports whether records carry a joint/sensor block.
func (l Layout) HasSensorState() bool {
	return l.NumJoints+l.Force+l.RateGyro+l.Accel+len(l.RangeWidths) > 0
}

// Schema is the immutable record layout of one character.
type Schema struct {
	Character string
	Fields    []Field
	Layout    Layout
	width     int
}

// Width is the total number of float32 slots in a record.
func (s *Schema) Width() int {
	return s.width
}

// Equal reports whether two schemas describe the same record layout.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Character != o.Character || len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// ScalarNames expands every field into one column name per slot. Vector
// fields become name[i].
func (s *Schema) ScalarNames() []string {
	names := make([]string, 0, s.width)
	for _, f := range s.Fields {
		if !f.Vector {
			names = append(names, f.Name)
			continue
		}
		for i := 0; i < f.Width; i++ {
			names = append(names, f.Name+"["+strconv.Itoa(i)+"]")
		}
	}
	return names
}

// PackedSlots returns a mask of slots holding integer bit patterns.
func (s *Schema) PackedSlots() []bool {
	mask := make([]bool, s.width)
	k := 0
	for _, f := range s.Fields {
		for i := 0; i < f.Width; i++ {
			mask[k] = f.Packed()
			k++
		}
	}
	return mask
}

type builder struct {
	s Schema
}

func (b *builder) add(name string, width int, vector bool) {
	b.s.Fields = append(b.s.Fields, Field{Name: name, Width: width, Vector: vector})
	b.s.width += width
}

func (b *builder) done() *Schema {
	out := b.s
	return &out
}

type sensorEntry struct {
	name string
	info core.SensorInfo
}

// Build derives the schema of a character from its body description. When
// storeAllPositions is false only the root link pose is recorded.
func Build(body core.BodyInfo, storeAllPositions bool) (*Schema, error) {
	if body.Name == "" {
		return nil, fmt.Errorf("%w: body has no name", core.ErrSchemaMismatch)
	}
	b := &builder{s: Schema{Character: body.Name}}
	b.s.Layout.NumLinks = len(body.Links)
	b.add(TimeField, 1, false)

	stored := len(body.Links)
	if !storeAllPositions && stored > 1 {
		stored = 1
	}
	b.s.Layout.StoredLinks = stored
	for i := 0; i < stored; i++ {
		name := body.Links[i].Name
		b.add(name+"."+suffixTranslation, 3, true)
		b.add(name+"."+suffixRotation, 4, true)
	}

	joints := body.NumJoints()
	jointLinks := make([]string, joints)
	var sensors []sensorEntry
	for _, l := range body.Links {
		if l.JointID >= 0 {
			if jointLinks[l.JointID] != "" {
				return nil, fmt.Errorf("%w: joint id %d used by %s and %s", core.ErrSchemaMismatch, l.JointID, jointLinks[l.JointID], l.Name)
			}
			jointLinks[l.JointID] = l.Name
		}
		for _, si := range l.Sensors {
			sensors = append(sensors, sensorEntry{name: si.Name, info: si})
		}
	}
	for id, name := range jointLinks {
		if name == "" {
			return nil, fmt.Errorf("%w: joint id %d has no link", core.ErrSchemaMismatch, id)
		}
		b.add(name+"."+suffixAngle, 1, false)
		b.add(name+"."+suffixJointTorque, 1, false)
	}
	b.s.Layout.NumJoints = joints

	sort.SliceStable(sensors, func(i, j int) bool {
		pi, pj := sensors[i].info.Type.Priority(), sensors[j].info.Type.Priority()
		if pi != pj {
			return pi < pj
		}
		return sensors[i].info.ID < sensors[j].info.ID
	})
	for _, se := range sensors {
		switch se.info.Type {
		case core.SensorForce:
			b.addForce(se.name)
		case core.SensorRateGyro:
			b.addGyro(se.name)
		case core.SensorAcceleration:
			b.addAccel(se.name)
		case core.SensorRange:
			width, err := rangeWidth(se.info)
			if err != nil {
				return nil, err
			}
			b.addRange(se.name, width)
		}
	}

	b.addActuators(joints)
	return b.done(), nil
}

func (b *builder) addForce(name string) {
	b.add(name+"."+suffixForce, 3, true)
	b.add(name+"."+suffixTorque, 3, true)
	b.s.Layout.Force++
}

func (b *builder) addGyro(name string) {
	b.add(name+"."+suffixAngularVelocity, 3, true)
	b.s.Layout.RateGyro++
}

func (b *builder) addAccel(name string) {
	b.add(name+"."+suffixAcceleration, 3, true)
	b.s.Layout.Accel++
}

func (b *builder) addRange(name string, width int) {
	b.add(name+"."+suffixRange, width, true)
	b.s.Layout.RangeWidths = append(b.s.Layout.RangeWidths, width)
}

// addActuators appends the command/servo/power block; bodies without joints have none.
func (b *builder) addActuators(joints int) {
	if joints == 0 {
		return
	}
	b.add(CommandField, joints, true)
	b.add(ServoStateField, joints, true)
	b.add(PowerStateField, 2, true)
	b.s.Layout.Actuators = true
}

// rangeWidth returns the number of beams of a range sensor: one centre beam
// plus scanAngle/2/scanStep on either side.
func rangeWidth(si core.SensorInfo) (int, error) {
	if len(si.SpecValues) < 2 || si.SpecValues[1] <= 0 {
		return 0, fmt.Errorf("%w: range sensor %s needs scan angle and step", core.ErrSchemaMismatch, si.Name)
	}
	half := int(si.SpecValues[0] / 2 / si.SpecValues[1])
	return half*2 + 1, nil
}
