// Package ispserial drives an ISP controller over a serial link. The link
// carries newline-delimited JSON: the host sends commands, the device
// answers each with a reply and streams frame statistics unprompted.
package ispserial

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/awb/internal/httputil"
	"github.com/banshee-data/awb/internal/isp"
	"github.com/banshee-data/awb/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrTimeout     = errors.New("device reply timed out")
	ErrDevice      = errors.New("device error")
	ErrClosed      = errors.New("bridge closed")
)

// Message types.
const (
	typeCmd   = "cmd"
	typeReply = "reply"
	typeFrame = "frame"
)

// Commands understood by the device.
const (
	CmdPing             = "ping"
	CmdGetGains         = "get_gains"
	CmdGetCrossTalk     = "get_cross_talk"
	CmdGetHistogram     = "get_histogram"
	CmdSetGains         = "set_gains"
	CmdSetCrossTalk     = "set_cross_talk"
	CmdSetLensShading   = "set_lens_shading"
	CmdSetMeasureConfig = "set_measure_config"
)

// message is one line on the wire.
type message struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id,omitempty"`
	Cmd   string          `json:"cmd,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// BridgeConfig contains configuration for a Bridge.
type BridgeConfig struct {
	// ReplyTimeout bounds each command round trip.
	ReplyTimeout time.Duration
	// FrameBuffer is the number of frames held for NextFrame; the oldest
	// is dropped when full.
	FrameBuffer int
}

// DefaultBridgeConfig returns the settings used by awbd.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{ReplyTimeout: 500 * time.Millisecond, FrameBuffer: 4}
}

// Bridge implements isp.Driver and isp.FrameSource over a serial port.
// Monitor must be running for commands to complete.
type Bridge struct {
	port    SerialPorter
	timeout time.Duration
	frames  chan isp.Frame
	dropped atomic.Uint64
	nextID  atomic.Uint64

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[uint64]chan message

	subscriberMu sync.Mutex
	subscribers  map[string]chan string

	closeOnce sync.Once
	done      chan struct{}
}

var (
	_ isp.Driver      = (*Bridge)(nil)
	_ isp.FrameSource = (*Bridge)(nil)
)

// NewBridge wraps port.
func NewBridge(port SerialPorter, cfg BridgeConfig) *Bridge {
	def := DefaultBridgeConfig()
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = def.FrameBuffer
	}
	return &Bridge{
		port:        port,
		timeout:     cfg.ReplyTimeout,
		frames:      make(chan isp.Frame, cfg.FrameBuffer),
		pending:     make(map[uint64]chan message),
		subscribers: make(map[string]chan string),
		done:        make(chan struct{}),
	}
}

// randomID generates a random subscriber ID.
func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every raw line read from the port.
func (b *Bridge) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (b *Bridge) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Dropped returns the number of frames discarded because NextFrame fell
// behind.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Monitor reads lines from the port until ctx is done, the port reaches
// EOF, or a read fails. Frames are queued for NextFrame and replies are
// routed to waiting commands.
func (b *Bridge) Monitor(ctx context.Context) error {
	defer b.shutdown()

	scan := bufio.NewScanner(b.port)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			return err
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			b.fanOut(line)
			b.dispatch(line)
		}
	}
}

func (b *Bridge) fanOut(line string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (b *Bridge) dispatch(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	var msg message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		monitoring.Logf("ispserial: ignoring malformed line %q: %v", line, err)
		return
	}
	switch msg.Type {
	case typeFrame:
		var f isp.Frame
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			monitoring.Logf("ispserial: bad frame payload: %v", err)
			return
		}
		b.queueFrame(f)
	case typeReply:
		b.pendingMu.Lock()
		ch, ok := b.pending[msg.ID]
		delete(b.pending, msg.ID)
		b.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	default:
		monitoring.Logf("ispserial: ignoring message type %q", msg.Type)
	}
}

func (b *Bridge) queueFrame(f isp.Frame) {
	for {
		select {
		case b.frames <- f:
			return
		default:
		}
		select {
		case <-b.frames:
			b.dropped.Add(1)
		default:
		}
	}
}

func (b *Bridge) shutdown() {
	b.closeOnce.Do(func() { close(b.done) })
}

// NextFrame blocks until the device reports a frame. It returns ErrClosed
// once Monitor has exited and the queue is drained.
func (b *Bridge) NextFrame(ctx context.Context) (isp.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	default:
	}
	select {
	case f := <-b.frames:
		return f, nil
	case <-ctx.Done():
		return isp.Frame{}, ctx.Err()
	case <-b.done:
		return isp.Frame{}, ErrClosed
	}
}

func (b *Bridge) send(msg message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	n, err := b.port.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// call sends cmd with payload in and decodes the reply data into out.
func (b *Bridge) call(cmd string, in, out interface{}) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	msg := message{Type: typeCmd, ID: b.nextID.Add(1), Cmd: cmd}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", cmd, err)
		}
		msg.Data = data
	}

	ch := make(chan message, 1)
	b.pendingMu.Lock()
	b.pending[msg.ID] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, msg.ID)
		b.pendingMu.Unlock()
	}()

	if err := b.send(msg); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrDevice, cmd, reply.Error)
		}
		if out != nil && len(reply.Data) > 0 {
			if err := json.Unmarshal(reply.Data, out); err != nil {
				return fmt.Errorf("decode %s reply: %w", cmd, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, cmd)
	case <-b.done:
		return ErrClosed
	}
}

// Ping checks the device answers.
func (b *Bridge) Ping() error { return b.call(CmdPing, nil, nil) }

// Gains reads the white-balance gains currently applied by the device.
func (b *Bridge) Gains() (isp.Gains, error) {
	var g isp.Gains
	err := b.call(CmdGetGains, nil, &g)
	return g, err
}

// CrossTalk reads the device's colour correction matrix and offsets.
func (b *Bridge) CrossTalk() (isp.CrossTalk, error) {
	var ct isp.CrossTalk
	err := b.call(CmdGetCrossTalk, nil, &ct)
	return ct, err
}

// Histogram reads the luminance histogram of the last frame.
func (b *Bridge) Histogram() (isp.Histogram, error) {
	var h isp.Histogram
	err := b.call(CmdGetHistogram, nil, &h)
	return h, err
}

// SetGains writes white-balance gains, already scaled for black level.
func (b *Bridge) SetGains(g isp.Gains) error { return b.call(CmdSetGains, g, nil) }

// SetCrossTalk writes the colour correction matrix and offsets.
func (b *Bridge) SetCrossTalk(ct isp.CrossTalk) error { return b.call(CmdSetCrossTalk, ct, nil) }

// SetLensShading writes a lens shading correction table.
func (b *Bridge) SetLensShading(t isp.LscTable) error { return b.call(CmdSetLensShading, t, nil) }

// SetMeasureConfig writes the white-point measurement window and limits.
func (b *Bridge) SetMeasureConfig(m isp.MeasureConfig) error {
	return b.call(CmdSetMeasureConfig, m, nil)
}

// Close closes subscriber channels and the port.
func (b *Bridge) Close() error {
	b.shutdown()
	b.subscriberMu.Lock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.subscriberMu.Unlock()
	return b.port.Close()
}

// AttachAdminRoutes mounts a raw line tail and a command endpoint under
// /debug/.
func (b *Bridge) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("isp-command", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		cmd := strings.TrimSpace(r.FormValue("cmd"))
		if cmd == "" {
			httputil.Errorf(w, http.StatusBadRequest, "missing cmd")
			return
		}
		var in interface{}
		if data := strings.TrimSpace(r.FormValue("data")); data != "" {
			in = json.RawMessage(data)
		}
		var out json.RawMessage
		if err := b.call(cmd, in, &out); err != nil {
			httputil.Errorf(w, http.StatusBadGateway, "%s: %v", cmd, err)
			return
		}
		httputil.RawJSON(w, http.StatusOK, out)
	})

	debug.HandleSilentFunc("isp-tail", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.Errorf(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := b.Subscribe()
		defer b.Unsubscribe(id)

		_, _ = io.WriteString(w, ": ping\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	return nil
}
