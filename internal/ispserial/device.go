package ispserial

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/monitoring"
	"github.com/banshee-data/awb/internal/timeutil"
)

// Device serves the device end of the protocol from a register model. It
// lets awbd and tests run the serial path without hardware.
type Device struct {
	Driver   isp.Driver
	Source   isp.FrameSource
	Interval time.Duration // frame period; 0 disables streaming
	Clock    timeutil.Clock

	writeMu sync.Mutex
}

// Serve answers commands read from rw and streams frames until ctx is done
// or rw fails.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.answer(rw)
		cancel()
	}()

	if d.Interval > 0 && d.Source != nil {
		clock := d.Clock
		if clock == nil {
			clock = timeutil.RealClock{}
		}
		ticker := clock.NewTicker(d.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return d.result(ctx, errCh)
			case <-ticker.C():
				f, err := d.Source.NextFrame(ctx)
				if err != nil {
					return d.result(ctx, errCh)
				}
				if err := d.write(rw, message{Type: typeFrame}, f); err != nil {
					return err
				}
			}
		}
	}
	<-ctx.Done()
	return d.result(ctx, errCh)
}

func (d *Device) result(ctx context.Context, errCh chan error) error {
	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (d *Device) answer(rw io.ReadWriter) error {
	scan := bufio.NewScanner(rw)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)
	for scan.Scan() {
		var msg message
		if err := json.Unmarshal(scan.Bytes(), &msg); err != nil || msg.Type != typeCmd {
			monitoring.Logf("ispserial device: ignoring line %q", scan.Text())
			continue
		}
		data, err := d.handle(msg)
		reply := message{Type: typeReply, ID: msg.ID}
		if err != nil {
			reply.Error = err.Error()
		}
		if err := d.write(rw, reply, data); err != nil {
			return err
		}
	}
	return scan.Err()
}

func (d *Device) handle(msg message) (interface{}, error) {
	if d.Driver == nil {
		return nil, fmt.Errorf("no registers")
	}
	decode := func(v interface{}) error {
		if err := json.Unmarshal(msg.Data, v); err != nil {
			return fmt.Errorf("bad %s payload: %w", msg.Cmd, err)
		}
		return nil
	}
	switch msg.Cmd {
	case CmdPing:
		return nil, nil
	case CmdGetGains:
		return d.Driver.Gains()
	case CmdGetCrossTalk:
		return d.Driver.CrossTalk()
	case CmdGetHistogram:
		return d.Driver.Histogram()
	case CmdSetGains:
		var g isp.Gains
		if err := decode(&g); err != nil {
			return nil, err
		}
		return nil, d.Driver.SetGains(g)
	case CmdSetCrossTalk:
		var ct isp.CrossTalk
		if err := decode(&ct); err != nil {
			return nil, err
		}
		return nil, d.Driver.SetCrossTalk(ct)
	case CmdSetLensShading:
		var t isp.LscTable
		if err := decode(&t); err != nil {
			return nil, err
		}
		return nil, d.Driver.SetLensShading(t)
	case CmdSetMeasureConfig:
		var m isp.MeasureConfig
		if err := decode(&m); err != nil {
			return nil, err
		}
		return nil, d.Driver.SetMeasureConfig(m)
	default:
		return nil, fmt.Errorf("unknown command %q", msg.Cmd)
	}
}

func (d *Device) write(w io.Writer, msg message, data interface{}) error {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = raw
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err = w.Write(append(line, '\n'))
	return err
}

// pipePort is one end of an in-memory full-duplex link.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

// Pipe returns two connected ports.
func Pipe() (host, device SerialPorter) {
	hr, dw := io.Pipe()
	dr, hw := io.Pipe()
	return &pipePort{r: hr, w: hw}, &pipePort{r: dr, w: dw}
}

// NewSimulatedPort starts d on one end of a Pipe and returns the other.
// The device stops when ctx is done or the returned port is closed.
func NewSimulatedPort(ctx context.Context, d *Device) SerialPorter {
	host, dev := Pipe()
	go func() {
		defer dev.Close()
		if err := d.Serve(ctx, dev); err != nil && ctx.Err() == nil {
			monitoring.Logf("ispserial device stopped: %v", err)
		}
	}()
	return host
}
