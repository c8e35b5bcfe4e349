// Package recorder writes terminal sessions as asciinema v2 recordings.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types of the asciinema v2 format.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// Header is the first line of a recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Frame is one recorded event, encoded as [offset, type, data].
type Frame struct {
	Offset float64
	Type   string
	Data   string
}

// MarshalJSON encodes the frame as a JSON array.
func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Offset, f.Type, f.Data})
}

// UnmarshalJSON decodes a [offset, type, data] array.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid frame: expected 3 elements, got %d", len(arr))
	}
	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid frame offset")
	}
	typ, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid frame type")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid frame data")
	}
	f.Offset, f.Type, f.Data = offset, typ, payload
	return nil
}

// Recorder appends frames to a recording. It is safe for concurrent use.
// Writes after Close are ignored.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	start  time.Time
	closed bool
}

// Create opens path (creating parent directories) and writes the header.
func Create(path string, cols, rows int, title string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	rec := &Recorder{w: file, closer: file, start: time.Now()}
	if err := rec.writeHeader(cols, rows, title); err != nil {
		file.Close()
		return nil, err
	}
	return rec, nil
}

// NewWithWriter records to w without owning it.
func NewWithWriter(w io.Writer, cols, rows int, title string) (*Recorder, error) {
	rec := &Recorder{w: w, start: time.Now()}
	if err := rec.writeHeader(cols, rows, title); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Recorder) writeHeader(cols, rows int, title string) error {
	header := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color"},
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// Output records bytes received from the remote side.
func (r *Recorder) Output(data []byte) error {
	return r.write(EventOutput, string(data))
}

// Input records bytes sent by the user.
func (r *Recorder) Input(data []byte) error {
	return r.write(EventInput, string(data))
}

// Resize records a geometry change.
func (r *Recorder) Resize(cols, rows int) error {
	return r.write(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) write(typ, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	line, err := json.Marshal(Frame{Offset: time.Since(r.start).Seconds(), Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close stops recording and closes the file if the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// StartTime returns when the recording began.
func (r *Recorder) StartTime() time.Time {
	return r.start
}
