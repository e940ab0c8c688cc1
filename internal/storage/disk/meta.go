package disk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/pkg/core"
)

const metaVersion = 1

// TimeMeta is the recording-wide metadata stored next to the records.
type TimeMeta struct {
	Name        string  `json:"name"`
	RecordingID string  `json:"recordingId"`
	TimeStep    float64 `json:"timeStep"`
	StartTime   float64 `json:"startTime"`
	CurrentTime float64 `json:"currentTime"`
	TotalTime   float64 `json:"totalTime"`
	Method      string  `json:"method"`
}

type characterMeta struct {
	Name   string         `json:"name"`
	Links  int            `json:"links"`
	Fields []schema.Field `json:"fields"`
}

type metaDoc struct {
	Version    int             `json:"version"`
	Time       TimeMeta        `json:"time"`
	Ticks      int             `json:"ticks"`
	Characters []characterMeta `json:"characters"`
}

func (s *Store) metaDoc() metaDoc {
	doc := metaDoc{Version: metaVersion, Time: s.meta, Ticks: s.contacts.count}
	for _, name := range s.order {
		sc := s.streams[name].schema
		doc.Characters = append(doc.Characters, characterMeta{
			Name:   name,
			Links:  sc.Layout.NumLinks,
			Fields: sc.Fields,
		})
	}
	return doc
}

func (s *Store) writeMeta() error {
	data, err := json.MarshalIndent(s.metaDoc(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	path := filepath.Join(s.dir, metaFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return ioErr("write", path, err)
	}
	return nil
}

func readMeta(path string) (metaDoc, error) {
	var doc metaDoc
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, ioErr("read", path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %s: %w", core.ErrFormatMismatch, path, err)
	}
	if doc.Version != metaVersion {
		return doc, fmt.Errorf("%w: %s: unsupported version %d", core.ErrFormatMismatch, path, doc.Version)
	}
	return doc, nil
}
