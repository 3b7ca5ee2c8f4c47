package ispserial

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/testutil"
)

func TestReplaySource(t *testing.T) {
	sim := isp.NewSimulator(testutil.Scene(testutil.IdxA, 4, 0.02), nil)
	var buf bytes.Buffer
	var want []isp.Frame
	for i := 0; i < 3; i++ {
		f, err := sim.NextFrame(context.Background())
		require.NoError(t, err)
		f.Timestamp = f.Timestamp.UTC().Truncate(time.Microsecond)
		want = append(want, f)
		require.NoError(t, WriteFrame(&buf, f))
		buf.WriteString(`{"type":"reply","id":1}` + "\n\n")
	}

	src := NewReplaySource(&buf)
	for _, w := range want {
		got, err := src.NextFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, w.Seq, got.Seq)
		assert.Equal(t, w.Measurement, got.Measurement)
		assert.Equal(t, w.Histogram, got.Histogram)
		assert.True(t, w.Timestamp.Equal(got.Timestamp))
	}
	_, err := src.NextFrame(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestReplaySourceBadLine(t *testing.T) {
	src := NewReplaySource(strings.NewReader("{\"type\":\"frame\",\"data\":{\"seq\":1}}\nnope\n"))
	_, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	_, err = src.NextFrame(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReplaySourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReplaySource(strings.NewReader("")).NextFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureRoundTrip(t *testing.T) {
	sim := isp.NewSimulator(testutil.Scene(testutil.IdxD65, 1, 0.01), nil)
	b := startBridge(t, &Device{Driver: sim, Source: sim, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	var buf safeBuffer
	done := make(chan int)
	go func() {
		n, _ := Capture(ctx, b, &buf)
		done <- n
	}()

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	n := <-done
	require.Positive(t, n)

	src := NewReplaySource(strings.NewReader(buf.String()))
	count := 0
	for {
		_, err := src.NextFrame(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, n, count)
}
