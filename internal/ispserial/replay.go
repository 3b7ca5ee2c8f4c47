package ispserial

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/awb/internal/isp"
)

// ReplaySource yields the frames of a capture file: one wire message per
// line, as written by Capture. Lines that are not frames are skipped. It
// returns io.EOF after the last frame.
type ReplaySource struct {
	scan *bufio.Scanner
	line int
}

var _ isp.FrameSource = (*ReplaySource)(nil)

// NewReplaySource reads frames from r.
func NewReplaySource(r io.Reader) *ReplaySource {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)
	return &ReplaySource{scan: scan}
}

// NextFrame returns the next captured frame.
func (s *ReplaySource) NextFrame(ctx context.Context) (isp.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return isp.Frame{}, err
		}
		if !s.scan.Scan() {
			if err := s.scan.Err(); err != nil {
				return isp.Frame{}, err
			}
			return isp.Frame{}, io.EOF
		}
		s.line++
		text := strings.TrimSpace(s.scan.Text())
		if text == "" {
			continue
		}
		var msg message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return isp.Frame{}, fmt.Errorf("capture line %d: %w", s.line, err)
		}
		if msg.Type != typeFrame {
			continue
		}
		var f isp.Frame
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			return isp.Frame{}, fmt.Errorf("capture line %d: %w", s.line, err)
		}
		return f, nil
	}
}

// Capture writes every frame line seen by b to w until ctx is done or the
// bridge closes. It returns the number of frames written.
func Capture(ctx context.Context, b *Bridge, w io.Writer) (int, error) {
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, nil
		case line, ok := <-ch:
			if !ok {
				return n, nil
			}
			if !strings.Contains(line, `"type":"`+typeFrame+`"`) {
				continue
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return n, err
			}
			n++
		}
	}
}

// WriteFrame appends f to w in capture format.
func WriteFrame(w io.Writer, f isp.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	line, err := json.Marshal(message{Type: typeFrame, Data: data})
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}
