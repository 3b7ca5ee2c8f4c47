package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/config"
	"github.com/banshee-data/awb/internal/db"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/ispserial"
	"github.com/banshee-data/awb/internal/monitor"
	"github.com/banshee-data/awb/internal/monitoring"
	"github.com/banshee-data/awb/internal/pipeline"
	"github.com/banshee-data/awb/internal/security"
)

// simPort selects the in-process simulated ISP instead of a serial device.
const simPort = "sim"

type serveOptions struct {
	listen     string
	grpcListen string
	dbPath     string
	configPath string
	calibPath  string
	port       string
	baudRate   int
	capture    string

	mode string
	arg  float64

	simIlluminant string
	simGain       float64
	simTime       float64

	verbose bool
	trace   bool
}

func parseServeFlags(args []string) (*serveOptions, error) {
	o := &serveOptions{}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&o.listen, "listen", ":8080", "HTTP listen address")
	fs.StringVar(&o.grpcListen, "grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	fs.StringVar(&o.dbPath, "db", "awb.db", "SQLite database path")
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Tuning config JSON")
	fs.StringVar(&o.calibPath, "calib", "", "Calibration set JSON (default: the active set in the database)")
	fs.StringVar(&o.port, "port", "/dev/ttyACM0", `ISP serial port, or "sim" for the simulated ISP`)
	fs.IntVar(&o.baudRate, "baud", ispserial.DefaultBaudRate, "Serial baud rate")
	fs.StringVar(&o.capture, "capture", "", "Append received frames to this file for awb-replay")
	fs.StringVar(&o.mode, "mode", string(awb.ModeAuto), "Start mode: auto, manual_illuminant or manual_color_temperature")
	fs.Float64Var(&o.arg, "arg", 0, "Start argument: illuminant index, or Kelvin for manual_color_temperature")
	fs.StringVar(&o.simIlluminant, "sim-illuminant", "", "Illuminant lighting the simulated scene (default: the first)")
	fs.Float64Var(&o.simGain, "sim-gain", 1, "Simulated sensor gain")
	fs.Float64Var(&o.simTime, "sim-time", 0.01, "Simulated integration time in seconds")
	fs.BoolVar(&o.verbose, "v", false, "Log state transitions")
	fs.BoolVar(&o.trace, "trace", false, "Log per-frame telemetry")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.listen == "" {
		return nil, errors.New("listen address is required")
	}
	if o.port == "" {
		return nil, errors.New("serial port is required")
	}
	if !awb.Mode(o.mode).IsValid() {
		return nil, fmt.Errorf("unknown mode %q", o.mode)
	}
	return o, nil
}

// loadTuning reads path, falling back to the built-in defaults when the
// default path is absent.
func loadTuning(path string) (*config.TuningConfig, error) {
	tc, err := config.LoadTuningConfig(path)
	if err == nil {
		return tc, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		log.Printf("no %s, using built-in tuning defaults", path)
		return config.DefaultTuningConfig(), nil
	}
	return nil, err
}

// calibrationSource returns the source the context loads from and the set
// it currently serves.
func calibrationSource(o *serveOptions, d *db.DB) (calib.Source, *calib.Set, error) {
	if o.calibPath != "" {
		set, err := calib.LoadJSONFile(o.calibPath)
		if err != nil {
			return nil, nil, err
		}
		return calib.NewMemory(set), set, nil
	}
	store := db.NewCalibrationStore(d)
	set, err := store.Active()
	if err != nil {
		return nil, nil, fmt.Errorf("no active calibration set (import one with 'awbd calib import -activate'): %w", err)
	}
	return store, set, nil
}

// simulatedScene lights the simulated sensor with the named illuminant.
func simulatedScene(o *serveOptions, set *calib.Set, cfg *awb.Config) (isp.Scene, error) {
	idx := 0
	if o.simIlluminant != "" {
		idx = set.IndexOf(o.simIlluminant)
		if idx < 0 {
			return isp.Scene{}, fmt.Errorf("unknown illuminant %q", o.simIlluminant)
		}
	}
	white := uint32(float64(cfg.Window.Area()) * (cfg.MinWhiteFraction + cfg.MaxWhiteFraction) / 2)
	return isp.SceneForGains(set.Illuminants[idx].Gains, o.simGain, o.simTime, white), nil
}

func openPort(ctx context.Context, o *serveOptions, set *calib.Set, cfg *awb.Config, interval time.Duration) (ispserial.SerialPorter, error) {
	if o.port != simPort {
		return ispserial.OpenPort(o.port, ispserial.PortOptions{BaudRate: o.baudRate})
	}
	scene, err := simulatedScene(o, set, cfg)
	if err != nil {
		return nil, err
	}
	sim := isp.NewSimulator(scene, nil)
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	log.Printf("using simulated ISP, frame interval %v", interval)
	return ispserial.NewSimulatedPort(ctx, &ispserial.Device{Driver: sim, Source: sim, Interval: interval}), nil
}

func logStreams(o *serveOptions) *monitoring.Streams {
	var diag, trace io.Writer
	if o.verbose || o.trace {
		diag = os.Stderr
	}
	if o.trace {
		trace = os.Stderr
	}
	return monitoring.NewStreams("[awb] ", os.Stderr, diag, trace)
}

func handleServe(ctx context.Context, args []string) error {
	o, err := parseServeFlags(args)
	if err != nil {
		return err
	}
	return serve(ctx, o)
}

func serve(ctx context.Context, o *serveOptions) error {
	tc, err := loadTuning(o.configPath)
	if err != nil {
		return err
	}
	cfg := awb.ConfigFromTuning(tc)

	d, err := db.NewDB(o.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer d.Close()

	src, set, err := calibrationSource(o, d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	port, err := openPort(ctx, o, set, cfg, tc.GetFrameInterval())
	if err != nil {
		return err
	}
	bridge := ispserial.NewBridge(port, ispserial.DefaultBridgeConfig())
	defer bridge.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial monitor: %v", err)
		}
		cancel()
		log.Print("monitor routine terminated")
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	if err := bridge.Ping(); err != nil {
		return fmt.Errorf("ISP not responding on %s: %w", o.port, err)
	}

	if o.capture != "" {
		if err := security.ValidateOutputPath(o.capture); err != nil {
			return fmt.Errorf("capture file: %w", err)
		}
		f, err := os.OpenFile(o.capture, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer f.Close()
			n, err := ispserial.Capture(ctx, bridge, f)
			if err != nil {
				log.Printf("capture: %v", err)
			}
			log.Printf("captured %d frames to %s", n, o.capture)
		}()
	}

	streams := logStreams(o)
	c, err := awb.Init(awb.WithISP(bridge), awb.WithLogger(streams))
	if err != nil {
		return err
	}
	defer c.Release()
	if err := c.Configure(cfg, src); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	runStore := db.NewRunStore(d)
	rc := pipeline.RunnerConfigFromTuning(tc)
	rc.Context = c
	rc.Source = bridge
	rc.Config = cfg
	rc.SetID = set.ID
	rc.Logger = streams
	// The device paces frames.
	rc.FrameInterval = 0
	if tc.GetRecordFrames() {
		rc.Recorder = runStore
	}
	runner, err := pipeline.NewRunner(rc)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err := runner.Start(awb.Mode(o.mode), o.arg); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	ws, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address: o.listen,
		Source:  runner,
		Runs:    runStore,
		Admin:   []monitor.AdminRouter{d, bridge},
		Plot:    monitor.PlotConfigFromSet(set),
	})
	if err != nil {
		return err
	}

	if o.grpcListen != "" {
		hs := monitor.NewHealthServer(monitor.HealthConfig{ListenAddr: o.grpcListen, Source: runner})
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("web server: %v", err)
			cancel()
		}
	}()

	log.Printf("awb pipeline started: mode=%s set=%q port=%s", o.mode, set.Name, o.port)
	runErr := runner.Run(ctx)
	cancel()

	if err := runner.Stop(); err != nil && !errors.Is(err, awb.ErrWrongState) {
		log.Printf("stop: %v", err)
	}
	st := runner.Stats()
	log.Printf("processed %d frames (%d skipped, %d errors), latency p50=%v p99=%v",
		st.Frames, st.Skipped, st.Errors, st.LatencyP50, st.LatencyP99)
	if errors.Is(runErr, ispserial.ErrClosed) {
		return nil
	}
	return runErr
}
