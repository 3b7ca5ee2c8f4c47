// Command awb-replay feeds a frame capture written by awbd -capture
// through a fresh AWB context without hardware and reports the result.
// The captured measurements reflect the gains applied when they were
// recorded, so the replay is open loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/config"
	"github.com/banshee-data/awb/internal/db"
	"github.com/banshee-data/awb/internal/ispserial"
	"github.com/banshee-data/awb/internal/monitor"
	"github.com/banshee-data/awb/internal/monitoring"
	"github.com/banshee-data/awb/internal/pipeline"
	"github.com/banshee-data/awb/internal/security"
	"github.com/banshee-data/awb/internal/version"
)

type options struct {
	in         string
	calibPath  string
	dbPath     string
	configPath string
	mode       string
	arg        float64
	png        string
	record     bool
	every      int
	trace      bool
	version    bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("awb-replay", flag.ContinueOnError)
	fs.StringVar(&o.in, "in", "", "Capture file (required)")
	fs.StringVar(&o.calibPath, "calib", "", "Calibration set JSON (default: the active set in -db)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database for the active calibration set and -record")
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Tuning config JSON")
	fs.StringVar(&o.mode, "mode", string(awb.ModeAuto), "Start mode")
	fs.Float64Var(&o.arg, "arg", 0, "Start argument")
	fs.StringVar(&o.png, "png", "", "Write the ratio trajectory plot to this PNG")
	fs.BoolVar(&o.record, "record", false, "Record the replay as a run in -db")
	fs.IntVar(&o.every, "every", 10, "Print every Nth frame (0 prints only the summary)")
	fs.BoolVar(&o.trace, "trace", false, "Log per-frame telemetry to stderr")
	fs.BoolVar(&o.version, "version", false, "Print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.version {
		return o, nil
	}
	if o.in == "" {
		return nil, errors.New("-in is required")
	}
	if o.calibPath == "" && o.dbPath == "" {
		return nil, errors.New("one of -calib or -db is required")
	}
	if o.record && o.dbPath == "" {
		return nil, errors.New("-record needs -db")
	}
	if o.every < 0 {
		return nil, errors.New("-every must not be negative")
	}
	if !awb.Mode(o.mode).IsValid() {
		return nil, fmt.Errorf("unknown mode %q", o.mode)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
	if o.version {
		fmt.Println(version.String("awb-replay"))
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := replay(ctx, o, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	tc, err := config.LoadTuningConfig(path)
	if err != nil && path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		return config.DefaultTuningConfig(), nil
	}
	return tc, err
}

func replay(ctx context.Context, o *options, out io.Writer) error {
	tc, err := loadTuning(o.configPath)
	if err != nil {
		return err
	}
	cfg := awb.ConfigFromTuning(tc)

	var d *db.DB
	if o.dbPath != "" {
		d, err = db.NewDB(o.dbPath)
		if err != nil {
			return err
		}
		defer d.Close()
	}

	var set *calib.Set
	if o.calibPath != "" {
		set, err = calib.LoadJSONFile(o.calibPath)
	} else {
		set, err = db.NewCalibrationStore(d).Active()
	}
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	f, err := os.Open(o.in)
	if err != nil {
		return err
	}
	defer f.Close()

	var streams *monitoring.Streams
	if o.trace {
		streams = monitoring.NewStreams("[replay] ", os.Stderr, os.Stderr, os.Stderr)
	}
	c, err := awb.Init(awb.WithLogger(streams))
	if err != nil {
		return err
	}
	defer c.Release()
	if err := c.Configure(cfg, calib.NewMemory(set)); err != nil {
		return err
	}

	rc := pipeline.RunnerConfigFromTuning(tc)
	rc.Context = c
	rc.Source = ispserial.NewReplaySource(f)
	rc.Config = cfg
	rc.SetID = set.ID
	rc.Logger = streams
	rc.FrameInterval = 0
	rc.AutoLockFrames = 0
	if o.record {
		rc.Recorder = db.NewRunStore(d)
	}
	runner, err := pipeline.NewRunner(rc)
	if err != nil {
		return err
	}
	defer runner.Close()
	if err := runner.Start(awb.Mode(o.mode), o.arg); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if o.every > 0 {
		fmt.Fprintln(tw, "FRAME\tILLUMINANT\tREGION\tR/G\tB/G\tDAMPING\tWHITE\tSETTLED")
	}
	src := rc.Source
	var hist []awb.Snapshot
	for {
		fr, err := src.NextFrame(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			break
		}
		if err != nil {
			return err
		}
		if !runner.Process(fr) {
			continue
		}
		snap := runner.Snapshot()
		hist = append(hist, snap)
		if o.every > 0 && snap.Frames%uint64(o.every) == 0 {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\t%.4f\t%.3f\t%d\t%v\n",
				snap.Frames, snap.IlluminantName, snap.Estimate.Region,
				snap.Gain.Ratio.Rg, snap.Gain.Ratio.Bg, snap.Gain.Damping, snap.NoWhitePixel, snap.Settled)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if err := runner.Stop(); err != nil {
		return err
	}
	st := runner.Stats()
	final := runner.Snapshot()
	fmt.Fprintf(out, "\n%d frames applied, %d errors; final illuminant %s, R/G %.4f B/G %.4f, settled %v\n",
		st.Frames, st.Errors, final.IlluminantName, final.Gain.Ratio.Rg, final.Gain.Ratio.Bg, final.Settled)
	fmt.Fprintf(out, "latency p50 %v p99 %v max %v\n", st.LatencyP50, st.LatencyP99, st.LatencyMax)
	if st.RunID != "" {
		fmt.Fprintf(out, "recorded as run %s\n", st.RunID)
	}

	if o.png != "" {
		if err := security.ValidateOutputPath(o.png); err != nil {
			return err
		}
		pf, err := os.Create(o.png)
		if err != nil {
			return err
		}
		defer pf.Close()
		if err := monitor.WriteRatioPNG(pf, hist, monitor.PlotConfigFromSet(set)); err != nil {
			return err
		}
	}
	return nil
}
