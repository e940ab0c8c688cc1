// Package influx exports recorded ticks to InfluxDB as one point per
// character and tick, falling back to a gzip line-protocol file when the
// server is unreachable.
package influx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/OCAP2/worldlog/internal/config"
	"github.com/OCAP2/worldlog/internal/progress"
	"github.com/OCAP2/worldlog/internal/storage/disk"
)

const (
	// MeasurementState holds one character record per point.
	MeasurementState = "worldstate"
	// MeasurementRecording holds one summary point per export.
	MeasurementRecording = "recording"

	retentionSeconds = 60 * 60 * 24 * 90 // 90 days
)

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Org          string
	Bucket       string
	BackupPath   string
	Logger       zerolog.Logger

	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// Connect establishes a connection to InfluxDB. When the server does not
// answer, points go to the gzip backup file instead.
func (m *Manager) Connect(ctx context.Context, cfg config.InfluxConfig) error {
	if !cfg.Enabled {
		return errors.New("influx.enabled is false")
	}
	m.Org, m.Bucket, m.BackupPath = cfg.Org, cfg.Bucket, cfg.BackupPath

	m.Client = influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	running, err := m.Client.Ping(pingCtx)
	cancel()

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.Logger.Info().Str("bucket", m.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()

	influxOrg, err := orgs.FindOrganizationByName(ctx, m.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.Org).Msg("Organization not found, creating")
		influxOrg, err = orgs.CreateOrganizationWithName(ctx, m.Org)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", m.Org).Msg("Error creating organization")
			return err
		}
	}

	if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, m.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.Bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.Org, m.Bucket)

	errorsCh := m.Writer.Errors()
	go func(bucket string, errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Bucket, errorsCh)
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}
	if m.BackupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	// the encoded line already ends in a newline
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	var errs []error
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	m.IsValid = false
	return errors.Join(errs...)
}

// Source is the read side of a recording.
type Source interface {
	Meta() disk.TimeMeta
	Characters() []string
	Len() int
	GetTime(pos int) (float64, error)
	ScalarNames(name string) ([]string, error)
	ScalarRow(name string, pos int) ([]float64, error)
}

// ExportRecording writes every record of src. Simulation time t is stamped
// as start+t. It returns the number of points written.
func (m *Manager) ExportRecording(ctx context.Context, src Source, start time.Time, b progress.Bridge) (int, error) {
	b = progress.WithContext(ctx, b)
	defer b.Done()

	meta := src.Meta()
	chars := src.Characters()
	n := src.Len()
	b.Begin(len(chars)*n + 1)

	written := 0
	for _, name := range chars {
		fields, err := src.ScalarNames(name)
		if err != nil {
			return written, err
		}
		for pos := 0; pos < n; pos++ {
			if err := progress.Check(b); err != nil {
				return written, err
			}
			row, err := src.ScalarRow(name, pos)
			if err != nil {
				return written, err
			}
			t, err := src.GetTime(pos)
			if err != nil {
				return written, err
			}
			if err := m.WritePoint(statePoint(meta, name, fields, row, start, t)); err != nil {
				return written, err
			}
			written++
			b.Worked(1)
		}
	}

	summary := influxdb2_write.NewPointWithMeasurement(MeasurementRecording).
		AddTag("recording", meta.Name).
		AddTag("recordingId", meta.RecordingID).
		AddField("ticks", n).
		AddField("characters", len(chars)).
		AddField("timeStep", meta.TimeStep).
		AddField("totalTime", meta.TotalTime).
		SetTime(start)
	if err := m.WritePoint(summary); err != nil {
		return written, err
	}
	written++
	b.Worked(1)

	m.Logger.Info().
		Str("recording", meta.Name).
		Int("points", written).
		Bool("backup", !m.IsValid).
		Msg("Recording exported")
	return written, nil
}

func statePoint(meta disk.TimeMeta, name string, fields []string, row []float64, start time.Time, t float64) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementState).
		AddTag("recording", meta.Name).
		AddTag("recordingId", meta.RecordingID).
		AddTag("character", name).
		SetTime(start.Add(time.Duration(t * float64(time.Second))))
	for i, f := range fields {
		if i == 0 || i >= len(row) {
			continue // time slot is the point timestamp
		}
		p.AddField(f, row[i])
	}
	return p
}
