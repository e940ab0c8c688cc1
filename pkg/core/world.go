// Package core contains the world-state types shared by the recorder,
// its storage layers and every consumer of recorded ticks.
package core

// LinkPosition is the pose of one rigid link at a tick.
// P is the translation (3 values) and R the row-major 3x3 rotation matrix (9 values).
// Both are nil when the link pose was not recorded.
type LinkPosition struct {
	P []float64 `json:"p,omitempty"`
	R []float64 `json:"r,omitempty"`
}

// Available reports whether the link pose carries data.
func (l LinkPosition) Available() bool {
	return l.P != nil && l.R != nil
}

// SensorState holds joint and sensor readings of a character.
// Q and U are indexed by joint id. Each sensor slice is indexed by sensor
// order within its type and holds the channel values of that sensor.
type SensorState struct {
	Q        []float64   `json:"q"`
	U        []float64   `json:"u"`
	Force    [][]float64 `json:"force,omitempty"`
	RateGyro [][]float64 `json:"rateGyro,omitempty"`
	Accel    [][]float64 `json:"accel,omitempty"`
	Range    [][]float64 `json:"range,omitempty"`
}

// CharacterState is the state of one simulated character at a tick.
type CharacterState struct {
	Name       string         `json:"name"`
	Links      []LinkPosition `json:"links"`
	Sensors    *SensorState   `json:"sensors,omitempty"`
	Command    []float64      `json:"command,omitempty"`
	ServoState []int32        `json:"servoState,omitempty"`
	PowerState []float64      `json:"powerState,omitempty"`
}

// ContactPoint is one contact between two bodies.
type ContactPoint struct {
	PointA [3]float64 `json:"pointA"`
	PointB [3]float64 `json:"pointB"`
	Normal [3]float64 `json:"normal"`
	Depth  float64    `json:"depth"`
}

// WorldState is everything recorded at one tick.
type WorldState struct {
	Time       float64           `json:"time"`
	Characters []*CharacterState `json:"characters"`
	Contacts   []ContactPoint    `json:"contacts,omitempty"`
}

// Character returns the named character state or nil.
func (w *WorldState) Character(name string) *CharacterState {
	if w == nil {
		return nil
	}
	for _, cs := range w.Characters {
		if cs != nil && cs.Name == name {
			return cs
		}
	}
	return nil
}

// Clone returns a deep copy of the world state.
func (w *WorldState) Clone() *WorldState {
	if w == nil {
		return nil
	}
	out := &WorldState{
		Time:       w.Time,
		Characters: make([]*CharacterState, len(w.Characters)),
	}
	for i, cs := range w.Characters {
		out.Characters[i] = cs.Clone()
	}
	if w.Contacts != nil {
		out.Contacts = append([]ContactPoint(nil), w.Contacts...)
	}
	return out
}

// Clone returns a deep copy of the character state.
func (c *CharacterState) Clone() *CharacterState {
	if c == nil {
		return nil
	}
	out := &CharacterState{
		Name:       c.Name,
		Command:    cloneFloats(c.Command),
		PowerState: cloneFloats(c.PowerState),
	}
	if c.ServoState != nil {
		out.ServoState = append([]int32(nil), c.ServoState...)
	}
	if c.Links != nil {
		out.Links = make([]LinkPosition, len(c.Links))
		for i, l := range c.Links {
			out.Links[i] = LinkPosition{P: cloneFloats(l.P), R: cloneFloats(l.R)}
		}
	}
	if c.Sensors != nil {
		out.Sensors = &SensorState{
			Q:        cloneFloats(c.Sensors.Q),
			U:        cloneFloats(c.Sensors.U),
			Force:    cloneMatrix(c.Sensors.Force),
			RateGyro: cloneMatrix(c.Sensors.RateGyro),
			Accel:    cloneMatrix(c.Sensors.Accel),
			Range:    cloneMatrix(c.Sensors.Range),
		}
	}
	return out
}

func cloneFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

func cloneMatrix(v [][]float64) [][]float64 {
	if v == nil {
		return nil
	}
	out := make([][]float64, len(v))
	for i, row := range v {
		out[i] = cloneFloats(row)
	}
	return out
}
