package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/db"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/ispserial"
	"github.com/banshee-data/awb/internal/testutil"
	"github.com/banshee-data/awb/internal/timeutil"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"minimal", []string{"-in", "c.jsonl", "-calib", "set.json"}, false},
		{"db source", []string{"-in", "c.jsonl", "-db", "awb.db", "-record"}, false},
		{"missing in", []string{"-calib", "set.json"}, true},
		{"missing calibration", []string{"-in", "c.jsonl"}, true},
		{"record without db", []string{"-in", "c.jsonl", "-calib", "set.json", "-record"}, true},
		{"negative every", []string{"-in", "c.jsonl", "-calib", "set.json", "-every", "-1"}, true},
		{"bad mode", []string{"-in", "c.jsonl", "-calib", "set.json", "-mode", "dusk"}, true},
		{"version only", []string{"-version"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// writeCapture records n frames of a daylight scene balanced for D65.
func writeCapture(t *testing.T, path string, n int) {
	t.Helper()
	sim := isp.NewSimulator(testutil.Scene(testutil.IdxD65, 1, 0.01), timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, sim.SetGains(testutil.IlluminantGains(testutil.IdxD65)))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for i := 0; i < n; i++ {
		fr, err := sim.NextFrame(context.Background())
		require.NoError(t, err)
		require.NoError(t, ispserial.WriteFrame(f, fr))
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "capture.jsonl")
	writeCapture(t, capture, 20)
	setPath := filepath.Join(dir, "set.json")
	require.NoError(t, calib.WriteJSONFile(setPath, testutil.MustCalibrationSet()))
	dbPath := filepath.Join(dir, "awb.db")

	o, err := parseFlags([]string{
		"-in", capture,
		"-calib", setPath,
		"-db", dbPath,
		"-arg", "1",
		"-record",
		"-every", "5",
		"-png", filepath.Join(dir, "ratio.png"),
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), o, &out))

	text := out.String()
	assert.Contains(t, text, "FRAME")
	assert.Contains(t, text, "20 frames applied")
	assert.Contains(t, text, "recorded as run")

	png, err := os.ReadFile(filepath.Join(dir, "ratio.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	d, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer d.Close()
	runs, err := db.NewRunStore(d).Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(20), runs[0].FrameCount)
}

func TestReplayMissingCapture(t *testing.T) {
	dir := t.TempDir()
	setPath := filepath.Join(dir, "set.json")
	require.NoError(t, calib.WriteJSONFile(setPath, testutil.MustCalibrationSet()))
	err := replay(context.Background(), &options{in: filepath.Join(dir, "nope.jsonl"), calibPath: setPath, configPath: "missing.json"}, &bytes.Buffer{})
	assert.Error(t, err)
}
