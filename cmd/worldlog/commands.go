package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OCAP2/worldlog/internal/config"
	"github.com/OCAP2/worldlog/internal/influx"
	"github.com/OCAP2/worldlog/internal/progress"
	"github.com/OCAP2/worldlog/internal/worldlog"
)

func progressFor(logger *slog.Logger, task string) progress.Bridge {
	return progress.NewLogReporter(logger, task)
}

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <archive>",
		Short: "Print the characters and time range of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer l.Clear()

			meta := l.Meta()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:      %s\n", l.Name())
			fmt.Fprintf(out, "id:        %s\n", meta.RecordingID)
			fmt.Fprintf(out, "ticks:     %d\n", l.Len())
			fmt.Fprintf(out, "timeStep:  %g\n", meta.TimeStep)
			fmt.Fprintf(out, "totalTime: %g\n", meta.TotalTime)
			if meta.Method != "" {
				fmt.Fprintf(out, "method:    %s\n", meta.Method)
			}
			if n := l.Len(); n > 0 {
				first, _ := l.GetTime(0)
				last, _ := l.GetTime(n - 1)
				fmt.Fprintf(out, "time:      %g .. %g\n", first, last)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHARACTER\tLINKS\tJOINTS\tWIDTH")
			for _, name := range l.Characters() {
				sc, ok := l.Schema(name)
				if !ok {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, sc.Layout.NumLinks, sc.Layout.NumJoints, sc.Width())
			}
			return tw.Flush()
		},
	}
}

func newCSVCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "csv <archive> <dir>",
		Short: "Write one CSV file per character",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer l.Clear()

			res, err := l.ExportCSV(cmd.Context(), args[1], progressFor(a.logger, "csv"))
			if err != nil {
				return err
			}
			if res == worldlog.Cancelled {
				return errors.New("export cancelled")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(l.Characters()), args[1])
			return nil
		},
	}
}

func newInfluxCommand(a *app) *cobra.Command {
	var startFlag string

	cmd := &cobra.Command{
		Use:   "influx <archive>",
		Short: "Write the records of a recording to InfluxDB",
		Long: "Write every record of a recording to InfluxDB as one point per character and tick.\n" +
			"When InfluxDB is unreachable the points go to the gzipped line-protocol backup file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().UTC()
			if startFlag != "" {
				var err error
				if start, err = time.Parse(time.RFC3339, startFlag); err != nil {
					return fmt.Errorf("parsing --start: %w", err)
				}
			}

			l, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer l.Clear()

			cfg := config.GetInfluxConfig()
			cfg.Enabled = true
			m := influx.NewManager(a.zerolog())
			if err := m.Connect(cmd.Context(), cfg); err != nil {
				return err
			}
			n, err := m.ExportRecording(cmd.Context(), l, start, progressFor(a.logger, "influx"))
			if cerr := m.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			dest := cfg.URL
			if !m.IsValid {
				dest = m.BackupPath
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d points to %s\n", n, dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&startFlag, "start", "", "wall-clock time of simulation time 0 (RFC3339, default now)")
	return cmd
}
