package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OCAP2/worldlog/internal/config"
	"github.com/OCAP2/worldlog/internal/logging"
	"github.com/OCAP2/worldlog/internal/overflow"
	intOtel "github.com/OCAP2/worldlog/internal/otel"
	"github.com/OCAP2/worldlog/internal/worldlog"
)

const appName = "worldlog"

// app carries what every command needs once the root has run.
type app struct {
	configDir string
	logLevel  string

	sessionStart time.Time
	slogManager  *logging.SlogManager
	logger       *slog.Logger
	logFile      *os.File
	graylog      *gelf.Writer
	otel         *intOtel.Provider

	// recording is reported with every log record
	recording string
}

// run executes the command line args and releases everything the root set up.
func run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{}
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, a.teardown(ctx))
}

func newRootCommand(a *app) *cobra.Command {

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Inspect, export and catalog world-state recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configDir, "config", "c", ".", "directory holding "+config.FileName)
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newInfoCommand(a))
	cmd.AddCommand(newCSVCommand(a))
	cmd.AddCommand(newInfluxCommand(a))
	cmd.AddCommand(newCatalogCommand(a))
	cmd.AddCommand(newRecordDemoCommand(a))
	return cmd
}

func (a *app) setup() error {
	a.sessionStart = time.Now()
	a.slogManager = logging.NewSlogManager()

	cfgErr := config.Load(a.configDir)
	var notFound viper.ConfigFileNotFoundError
	if cfgErr != nil && !errors.As(cfgErr, &notFound) {
		return cfgErr
	}
	if a.logLevel != "" {
		viper.Set("logLevel", a.logLevel)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, appName, a.sessionStart)
	if _, err := os.Stat(logPath); err == nil {
		os.Rename(logPath, logPath+".old")
	}
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	a.logFile = f

	var sinks []io.Writer
	if config.GetBool("graylog.enabled") {
		a.graylog, err = logging.NewGraylogWriter(config.GetString("graylog.address"), appName)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Graylog disabled:", err)
		} else {
			sinks = append(sinks, a.graylog)
		}
	}

	a.slogManager.Setup(a.logFile, config.GetString("logLevel"), sinks...)
	a.logger = a.slogManager.WithContext(func() []slog.Attr {
		if a.recording == "" {
			return nil
		}
		return []slog.Attr{slog.String("recording", a.recording)}
	})
	if cfgErr != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		a.logger.Info("Loaded config", "dir", a.configDir)
	}

	otelCfg := config.GetOtelConfig()
	if otelCfg.Enabled {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:        true,
			ServiceName:    otelCfg.ServiceName,
			ExportInterval: otelCfg.ExportInterval,
			Writer:         a.logFile,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.logger.Info("OTel provider initialized", "file", logPath)
		}
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		errs = append(errs, a.otel.Shutdown(shutdownCtx))
		cancel()
	}
	if a.logger != nil {
		a.logger.Info("Done", "elapsed", time.Since(a.sessionStart))
	}
	a.otel, a.logger = nil, nil
	if a.graylog != nil {
		errs = append(errs, a.graylog.Close())
		a.graylog = nil
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
		a.logFile = nil
	}
	return errors.Join(errs...)
}

// zerolog returns the logger handed to the catalog and influx managers.
func (a *app) zerolog() zerolog.Logger {
	var w io.Writer = os.Stderr
	if a.logFile != nil {
		w = a.logFile
	}
	return logging.NewZerolog(w, config.GetString("logLevel"))
}

// newLog builds an empty recorder from the recorder settings.
func (a *app) newLog(name string) (*worldlog.Log, error) {
	rc := config.GetRecorderConfig()
	if err := os.MkdirAll(rc.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	opts := worldlog.Options{
		Name:              name,
		TempRoot:          rc.TempDir,
		UseDisk:           rc.UseDisk,
		StoreAllPositions: rc.StoreAllPositions,
		TickInterval:      rc.TickInterval,
		TotalTime:         rc.TotalTime,
		Method:            rc.Method,
		HeapTolerance:     rc.HeapTolerance,
		Probe:             overflow.RuntimeProbe{Limit: rc.MemoryLimit},
		ReadCacheSize:     rc.ReadCacheSize,
		Logger:            a.logger,
	}
	return worldlog.New(opts)
}

// load opens an archive. The caller must Clear the returned log.
func (a *app) load(ctx context.Context, path string) (*worldlog.Log, error) {
	l, err := a.newLog(worldlog.DefaultName)
	if err != nil {
		return nil, err
	}
	res, err := l.Load(ctx, path, progressFor(a.logger, "load"))
	if err != nil {
		return nil, err
	}
	if res == worldlog.Cancelled {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), context.Canceled)
	}
	a.recording = l.Name()
	return l, nil
}
