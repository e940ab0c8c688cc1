package core

import "strings"

// SensorType identifies the kind of a sensor mounted on a link.
type SensorType int

const (
	SensorUnknown SensorType = iota
	SensorForce
	SensorRateGyro
	SensorAcceleration
	SensorVision
	SensorRange
)

var sensorTypeNames = map[SensorType]string{
	SensorUnknown:      "Unknown",
	SensorForce:        "Force",
	SensorRateGyro:     "RateGyro",
	SensorAcceleration: "Acceleration",
	SensorVision:       "Vision",
	SensorRange:        "Range",
}

func (t SensorType) String() string {
	if s, ok := sensorTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// Priority orders sensors within a record. Unknown sensors sort first.
func (t SensorType) Priority() int {
	switch t {
	case SensorForce:
		return 0
	case SensorRateGyro:
		return 1
	case SensorAcceleration:
		return 2
	case SensorVision:
		return 3
	case SensorRange:
		return 4
	default:
		return -1
	}
}

// ParseSensorType maps a sensor type name to its SensorType, case-insensitive.
func ParseSensorType(name string) SensorType {
	for t, s := range sensorTypeNames {
		if strings.EqualFold(s, name) {
			return t
		}
	}
	return SensorUnknown
}

// SensorInfo describes a sensor attached to a link.
// SpecValues carries type specific parameters; for a range sensor they are
// the scan angle and the scan step in radians.
type SensorInfo struct {
	Name       string     `json:"name"`
	Type       SensorType `json:"type"`
	ID         int        `json:"id"`
	SpecValues []float64  `json:"specValues,omitempty"`
}

// LinkInfo describes one link of a body. JointID is -1 for links without
// an actuated joint.
type LinkInfo struct {
	Name    string       `json:"name"`
	JointID int          `json:"jointId"`
	Sensors []SensorInfo `json:"sensors,omitempty"`
}

// BodyInfo is the static description of a character used to build its record layout.
type BodyInfo struct {
	Name  string     `json:"name"`
	Links []LinkInfo `json:"links"`
}

// NumJoints returns the number of actuated joints (highest joint id + 1).
func (b BodyInfo) NumJoints() int {
	n := 0
	for _, l := range b.Links {
		if l.JointID+1 > n {
			n = l.JointID + 1
		}
	}
	return n
}
