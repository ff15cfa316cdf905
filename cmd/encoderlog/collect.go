package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/encoderlog/internal/acquisition"
	"github.com/banshee-data/encoderlog/internal/analysis"
	"github.com/banshee-data/encoderlog/internal/capture"
	"github.com/banshee-data/encoderlog/internal/config"
	"github.com/banshee-data/encoderlog/internal/db"
	"github.com/banshee-data/encoderlog/internal/monitoring"
	"github.com/banshee-data/encoderlog/internal/serialport"
	"github.com/banshee-data/encoderlog/internal/sink"
	"github.com/banshee-data/encoderlog/internal/timeutil"
)

// openPort is replaced in tests.
var openPort serialport.Opener = serialport.Open

type collectFlags struct {
	configPath   *string
	port         *string
	baud         *int
	duration     *time.Duration
	readTimeout  *time.Duration
	name         *string
	logDir       *string
	dbPath       *string
	capturePath  *string
	replayPath   *string
	paced        *bool
	dev          *bool
	listen       *string
	verbose      *bool
	samplePeriod *time.Duration
	summary      *bool
}

func newCollectFlags(fs *flag.FlagSet) *collectFlags {
	return &collectFlags{
		configPath:   fs.String("config", "", "JSON or YAML acquisition config file"),
		port:         fs.String("port", config.DefaultPort, "Serial port to use (ignored with -dev or -replay)"),
		baud:         fs.Int("baud", serialport.DefaultBaudRate, "Serial baud rate"),
		duration:     fs.Duration("duration", config.DefaultDuration, "Sampling duration"),
		readTimeout:  fs.Duration("read-timeout", serialport.DefaultReadTimeout, "Per-read timeout"),
		name:         fs.String("name", config.DefaultBaseName, "Run name, used as the CSV file prefix"),
		logDir:       fs.String("log-dir", config.DefaultLogDir, "Directory for CSV logs"),
		dbPath:       fs.String("db", "", "SQLite database to store the run in (disabled if empty)"),
		capturePath:  fs.String("capture", "", "Record the raw byte stream to this CBOR file"),
		replayPath:   fs.String("replay", "", "Decode a CBOR capture instead of opening the port"),
		paced:        fs.Bool("paced", false, "Replay at the recorded rate"),
		dev:          fs.Bool("dev", false, "Read from a simulated encoder"),
		listen:       fs.String("listen", "", "Debug HTTP listen address (disabled if empty)"),
		verbose:      fs.Bool("verbose", false, "Log every frame"),
		samplePeriod: fs.Duration("sample-period", config.DefaultSamplePeriod, "Time between frames used by the summary"),
		summary:      fs.Bool("summary", true, "Print the slew summary when the run ends"),
	}
}

func durationString(d *time.Duration) *string {
	s := d.String()
	return &s
}

// apply copies explicitly set flags over cfg.
func (f *collectFlags) apply(fs *flag.FlagSet, cfg *config.AcquisitionConfig) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Port = f.port
		case "baud":
			if cfg.Serial == nil {
				cfg.Serial = &serialport.PortOptions{}
			}
			cfg.Serial.BaudRate = *f.baud
		case "duration":
			cfg.Duration = durationString(f.duration)
		case "read-timeout":
			cfg.ReadTimeout = durationString(f.readTimeout)
		case "name":
			cfg.BaseName = f.name
		case "log-dir":
			cfg.LogDir = f.logDir
		case "db":
			cfg.DBPath = f.dbPath
		case "capture":
			cfg.CapturePath = f.capturePath
		case "listen":
			cfg.Listen = f.listen
		case "verbose":
			cfg.Verbose = f.verbose
		case "sample-period":
			cfg.SamplePeriod = durationString(f.samplePeriod)
		}
	})
}

func loadCollectConfig(fs *flag.FlagSet, f *collectFlags) (*config.AcquisitionConfig, error) {
	cfg := config.EmptyAcquisitionConfig()
	if *f.configPath != "" {
		var err error
		cfg, err = config.LoadAcquisitionConfig(*f.configPath)
		if err != nil {
			return nil, err
		}
	}
	f.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// openSource picks the byte source and describes it for the run record.
func openSource(cfg *config.AcquisitionConfig, f *collectFlags) (acquisition.ByteSource, string, error) {
	switch {
	case *f.replayPath != "":
		src, err := capture.OpenReplay(*f.replayPath, capture.ReplayOptions{Paced: *f.paced})
		if err != nil {
			return nil, "", err
		}
		return src, "replay:" + *f.replayPath, nil
	case *f.dev:
		sim := serialport.DefaultSimulationConfig()
		sim.ReadTimeout = cfg.GetReadTimeout()
		return serialport.NewSimulatedPort(sim), "simulated", nil
	default:
		opts := cfg.GetPortOptions()
		port, err := openPort(cfg.GetPort(), opts, cfg.GetReadTimeout())
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("serial:%s %s", cfg.GetPort(), opts), nil
	}
}

func runCollect(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(out)
	f := newCollectFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := loadCollectConfig(fs, f)
	if err != nil {
		return err
	}
	monitoring.SetVerbose(cfg.GetVerbose())

	src, sourceName, err := openSource(cfg, f)
	if err != nil {
		return err
	}
	log.Printf("reading from %s", sourceName)

	startedAt := time.Now()
	runID := uuid.NewString()

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		run, err := database.StartRun(cfg.GetBaseName(), sourceName, startedAt)
		if err != nil {
			src.Close()
			return err
		}
		runID = run.ID
	}

	if path := cfg.GetCapturePath(); path != "" {
		rec, err := capture.CreateFile(path, capture.Header{
			RunID:     runID,
			Source:    sourceName,
			StartedAt: startedAt,
		}, timeutil.RealClock{})
		if err != nil {
			src.Close()
			return err
		}
		src = capture.NewRecordingSource(src, rec)
		log.Printf("capturing raw stream to %s", path)
	}

	csvSink, csvPath, err := sink.CreateCSVFile(cfg.GetLogDir(), cfg.GetBaseName(), startedAt)
	if err != nil {
		src.Close()
		return err
	}
	defer csvSink.Close()

	feed := sink.NewBroadcaster(256)
	defer feed.Close()

	sinks := sink.Multi{csvSink, sink.NewConsole(timeutil.RealClock{}), feed}
	var records *db.RecordSink
	if database != nil {
		records = database.NewRecordSink(runID, db.DefaultBatchSize)
		defer records.Close()
		sinks = append(sinks, records)
	}

	loop := acquisition.New(src, sinks, acquisition.Options{
		Duration:    cfg.GetDuration(),
		ReadTimeout: cfg.GetReadTimeout(),
		ReadSize:    cfg.GetReadSize(),
	})

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if addr := cfg.GetListen(); addr != "" {
		mux := http.NewServeMux()
		loop.AttachAdminRoutes(mux, feed)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				src.Close()
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(loopCtx, addr, mux)
		}()
	}

	res, runErr := loop.Run(loopCtx)
	cancel()
	wg.Wait()

	if err := csvSink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if records != nil {
		if err := records.Close(); err != nil && runErr == nil {
			runErr = err
		}
		outcome := db.RunOutcome{
			FinishedAt:   time.Now(),
			Frames:       res.Frames,
			DecodeErrors: res.DecodeErrors,
			StopReason:   res.Reason,
		}
		if err := database.FinishRun(runID, outcome); err != nil && runErr == nil {
			runErr = err
		}
	}

	fmt.Fprintf(out, "Data saved to %s\n", csvPath)
	fmt.Fprintf(out, "Run %s: %d frames, %d malformed, %d bytes in %s (%s)\n",
		runID, res.Frames, res.DecodeErrors, res.BytesRead, res.Elapsed.Round(time.Millisecond), res.Reason)
	if runErr != nil {
		return runErr
	}

	if *f.summary {
		if err := summarizeFile(csvPath, cfg.GetSamplePeriod(), out); err != nil {
			if !errors.Is(err, analysis.ErrInsufficientSamples) {
				return err
			}
			log.Printf("no summary: %v", err)
		}
	}
	return nil
}

// serveDebug runs the debug server until ctx is done.
func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
