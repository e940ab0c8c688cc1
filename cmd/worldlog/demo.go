package main

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/OCAP2/worldlog/internal/codec"
	"github.com/OCAP2/worldlog/internal/worldlog"
	"github.com/OCAP2/worldlog/pkg/core"
)

const (
	armName       = "arm"
	ballName      = "ball"
	upperArm      = 0.3
	ballRadius    = 0.1
	ballSpeed     = 0.5
	gravity       = 9.81
	armMass       = 2.0
	supplyVoltage = 24.0
)

func newRecordDemoCommand(a *app) *cobra.Command {
	var (
		ticks     int
		toCatalog bool
		useDisk   bool
	)

	cmd := &cobra.Command{
		Use:   "record-demo <archive>",
		Short: "Record a synthetic two-character simulation and save it",
		Long: "Record a rolling ball and a swinging two-joint arm for the given number of ticks\n" +
			"and save the result as an archive. The recorder settings come from the config file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ticks <= 0 {
				return fmt.Errorf("--ticks must be positive, got %d", ticks)
			}
			if cmd.Flags().Changed("disk") {
				viper.Set("recorder.useDisk", useDisk)
			}
			archive := args[0]
			name := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))

			l, err := a.newLog(name)
			if err != nil {
				return err
			}
			defer l.Clear()
			a.recording = name

			if err := recordDemo(l, ticks); err != nil {
				return err
			}
			res, err := l.Save(cmd.Context(), archive, progressFor(a.logger, "save"))
			if err != nil {
				return err
			}
			if res == worldlog.Cancelled {
				return errors.New("save cancelled")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d ticks to %s\n", l.Len(), archive)

			if toCatalog {
				return a.catalogRecording(cmd, l, archive)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&ticks, "ticks", "n", 1000, "number of ticks to record")
	cmd.Flags().BoolVar(&toCatalog, "catalog", false, "add the saved archive to the catalog")
	cmd.Flags().BoolVar(&useDisk, "disk", false, "write ticks straight to disk instead of memory")
	return cmd
}

func recordDemo(l *worldlog.Log, ticks int) error {
	if err := l.Create(); err != nil {
		return err
	}
	if err := l.RegisterCharacter(demoArm()); err != nil {
		return err
	}
	dt := l.Meta().TimeStep
	for i := 0; i < ticks; i++ {
		if err := l.Append(demoState(float64(i) * dt)); err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
	}
	if err := l.ExtendTimeRange(float64(ticks) * dt); err != nil {
		return err
	}
	return l.StopSimulation()
}

func demoArm() core.BodyInfo {
	return core.BodyInfo{
		Name: armName,
		Links: []core.LinkInfo{
			{Name: "base", JointID: -1},
			{Name: "shoulder", JointID: 0, Sensors: []core.SensorInfo{
				{Name: "wrench", Type: core.SensorForce, ID: 0},
			}},
			{Name: "elbow", JointID: 1, Sensors: []core.SensorInfo{
				{Name: "imu", Type: core.SensorRateGyro, ID: 0},
			}},
		},
	}
}

func rotation(axis r3.Vec, angle float64) []float64 {
	return codec.AxisAngle{Axis: axis, Angle: angle}.Matrix()
}

var (
	zAxis = r3.Vec{Z: 1}
	yAxis = r3.Vec{Y: 1}
)

// demoState returns the world at simulation time t. The ball rests on the
// ground, so every tick carries one contact under it.
func demoState(t float64) *core.WorldState {
	q := []float64{math.Sin(t), 0.5 * math.Sin(2*t)}
	u := []float64{math.Cos(t), math.Cos(2 * t)}
	arm := &core.CharacterState{
		Name: armName,
		Links: []core.LinkPosition{
			{P: []float64{0, 0, 0}, R: rotation(zAxis, 0)},
			{P: []float64{0, 0, 0.5}, R: rotation(zAxis, q[0])},
			{P: []float64{upperArm * math.Cos(q[0]), upperArm * math.Sin(q[0]), 0.5}, R: rotation(zAxis, q[0]+q[1])},
		},
		Sensors: &core.SensorState{
			Q:        q,
			U:        u,
			Force:    [][]float64{{0, 0, armMass * gravity, 0, 0, 0}},
			RateGyro: [][]float64{{0, 0, u[0] + u[1]}},
		},
		Command:    []float64{q[0], q[1]},
		ServoState: []int32{1, 1},
		PowerState: []float64{supplyVoltage, 0.5 + 0.1*math.Abs(u[0])},
	}

	x := ballSpeed * t
	ball := &core.CharacterState{
		Name: ballName,
		Links: []core.LinkPosition{
			{P: []float64{x, 1, ballRadius}, R: rotation(yAxis, x/ballRadius)},
		},
	}

	return &core.WorldState{
		Time:       t,
		Characters: []*core.CharacterState{ball, arm},
		Contacts: []core.ContactPoint{{
			PointA: [3]float64{x, 1, 0},
			PointB: [3]float64{x, 1, 0},
			Normal: [3]float64{0, 0, 1},
		}},
	}
}
