package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/internal/storage/disk"
)

// maxFootprintPoints bounds the number of samples in a footprint.
const maxFootprintPoints = 512

// Recording is one saved archive.
type Recording struct {
	ID          uint           `json:"id" gorm:"primarykey;autoIncrement"`
	CreatedAt   time.Time      `json:"createdAt"`
	RecordingID string         `json:"recordingId" gorm:"size:36;index"`
	Name        string         `json:"name" gorm:"size:128;index"`
	ArchivePath string         `json:"archivePath"`
	Ticks       int            `json:"ticks"`
	TimeStep    float64        `json:"timeStep"`
	StartTime   float64        `json:"startTime"`
	EndTime     float64        `json:"endTime"`
	TotalTime   float64        `json:"totalTime"`
	Method      string         `json:"method" gorm:"size:64"`
	Characters  datatypes.JSON `json:"characters"`
	// Footprint is the XY path of the first character's root link as WKT.
	Footprint  string  `json:"footprint"`
	PathLength float64 `json:"pathLength"`
}

// CharacterSummary describes one character of a recording.
type CharacterSummary struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Links  int    `json:"links"`
	Joints int    `json:"joints"`
}

// CharacterSummaries decodes the Characters column.
func (r *Recording) CharacterSummaries() ([]CharacterSummary, error) {
	var out []CharacterSummary
	if len(r.Characters) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Characters, &out); err != nil {
		return nil, fmt.Errorf("decoding characters of %s: %w", r.Name, err)
	}
	return out, nil
}

// Source is the read side of a recording.
type Source interface {
	Meta() disk.TimeMeta
	Characters() []string
	Schema(name string) (*schema.Schema, bool)
	Len() int
	GetTime(pos int) (float64, error)
	ScalarRow(name string, pos int) ([]float64, error)
}

// Describe builds the catalog entry of a recording saved at archivePath.
func Describe(src Source, archivePath string) (*Recording, error) {
	meta := src.Meta()
	rec := &Recording{
		RecordingID: meta.RecordingID,
		Name:        meta.Name,
		ArchivePath: archivePath,
		Ticks:       src.Len(),
		TimeStep:    meta.TimeStep,
		TotalTime:   meta.TotalTime,
		Method:      meta.Method,
	}
	if abs, err := filepath.Abs(archivePath); err == nil {
		rec.ArchivePath = abs
	}
	if rec.Ticks > 0 {
		var err error
		if rec.StartTime, err = src.GetTime(0); err != nil {
			return nil, err
		}
		if rec.EndTime, err = src.GetTime(rec.Ticks - 1); err != nil {
			return nil, err
		}
	}

	names := src.Characters()
	summaries := make([]CharacterSummary, 0, len(names))
	for _, name := range names {
		sc, ok := src.Schema(name)
		if !ok {
			continue
		}
		summaries = append(summaries, CharacterSummary{
			Name:   name,
			Width:  sc.Width(),
			Links:  sc.Layout.NumLinks,
			Joints: sc.Layout.NumJoints,
		})
	}
	chars, err := json.Marshal(summaries)
	if err != nil {
		return nil, err
	}
	rec.Characters = datatypes.JSON(chars)

	if len(names) > 0 {
		ls, err := footprint(src, names[0])
		if err != nil {
			return nil, err
		}
		if !ls.IsEmpty() {
			rec.Footprint = ls.AsText()
			rec.PathLength = ls.Length()
		}
	}
	return rec, nil
}

// footprint samples the root link translation of a character. It is empty
// when the root pose is not recorded or never moves.
func footprint(src Source, name string) (geom.LineString, error) {
	sc, ok := src.Schema(name)
	n := src.Len()
	if !ok || sc.Layout.StoredLinks == 0 || n == 0 {
		return geom.LineString{}, nil
	}
	step := 1
	if n > maxFootprintPoints {
		step = (n + maxFootprintPoints - 1) / maxFootprintPoints
	}

	var coords []float64
	add := func(pos int) error {
		row, err := src.ScalarRow(name, pos)
		if err != nil {
			return err
		}
		// slots 1 and 2 are the root link x and y
		x, y := row[1], row[2]
		if k := len(coords); k >= 2 && coords[k-2] == x && coords[k-1] == y {
			return nil
		}
		coords = append(coords, x, y)
		return nil
	}
	for pos := 0; pos < n; pos += step {
		if err := add(pos); err != nil {
			return geom.LineString{}, err
		}
	}
	if (n-1)%step != 0 {
		if err := add(n - 1); err != nil {
			return geom.LineString{}, err
		}
	}
	if len(coords) < 4 {
		return geom.LineString{}, nil
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
}
