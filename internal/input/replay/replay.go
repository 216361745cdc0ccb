// Package replay reads and writes raw key events as JSON lines, one
// {"code","value","time"} object per line.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"keyrelay/internal/input"
)

// Record is the JSON-lines form of a raw event. Value follows evdev:
// 1 press, 2 repeat, 0 release. Time is in seconds and optional.
type Record struct {
	Code  string   `json:"code"`
	Value int32    `json:"value"`
	Time  *float64 `json:"time,omitempty"`
}

// RecordFromEvent converts a raw event for output.
func RecordFromEvent(ev input.RawEvent) Record {
	sec := ev.Time.Seconds()
	return Record{Code: ev.Code, Value: int32(ev.State), Time: &sec}
}

// Source serves raw events decoded from a line-oriented reader.
type Source struct {
	scanner *bufio.Scanner
	closer  io.Closer
	now     func() time.Duration
	line    int

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Source.
type Option func(*Source)

// WithClock sets the clock used to stamp records that carry no time.
func WithClock(now func() time.Duration) Option {
	return func(s *Source) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSource wraps r. When r is also an io.Closer it is closed by Close.
func NewSource(r io.Reader, opts ...Option) *Source {
	start := time.Now()
	s := &Source{
		scanner: bufio.NewScanner(r),
		now:     func() time.Duration { return time.Since(start) },
		closed:  make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next event, io.EOF at end of input, or a line-numbered
// decode error.
func (s *Source) Next() (input.RawEvent, error) {
	for {
		select {
		case <-s.closed:
			return input.RawEvent{}, io.EOF
		default:
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return input.RawEvent{}, fmt.Errorf("read line %d: %w", s.line+1, err)
			}
			return input.RawEvent{}, io.EOF
		}
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}
		ev, err := s.decode(text)
		if err != nil {
			return input.RawEvent{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return ev, nil
	}
}

func (s *Source) decode(text string) (input.RawEvent, error) {
	var rec Record
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return input.RawEvent{}, fmt.Errorf("decode record: %w", err)
	}
	rec.Code = strings.TrimSpace(rec.Code)
	if rec.Code == "" {
		return input.RawEvent{}, errors.New("record has no code")
	}
	ev := input.RawEvent{Code: rec.Code, State: input.KeyState(rec.Value)}
	if rec.Time != nil {
		ev.Time = input.TimeFromSeconds(*rec.Time)
	} else {
		ev.Time = s.now()
	}
	return ev, nil
}

// Close stops the source. A Next blocked in the underlying reader returns
// once that reader is closed.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// Encoder writes raw events as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one event followed by a newline.
func (e *Encoder) Encode(ev input.RawEvent) error {
	return e.enc.Encode(RecordFromEvent(ev))
}
