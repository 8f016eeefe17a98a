// Package stream turns an incrementally delivered byte stream into a lazy
// sequence of structured generation events.
//
// Frames are lines of the form
//
//	data: {"type":"progress","phase":"render","percentage":40,"message":"..."}
//
// Chunks may split a frame anywhere; the decoder carries the unterminated
// tail of each chunk over to the next one. Lines without the frame prefix are
// ignored and frames that fail to parse are dropped without ending the
// stream.
package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"
)

// DefaultPrefix marks lines that carry an event payload.
const DefaultPrefix = "data:"

const (
	defaultReadSize = 4 << 10
	maxEmptyReads   = 100
)

// Option customizes a Decoder.
type Option func(*Decoder)

// WithPrefix overrides the frame marker.
func WithPrefix(prefix string) Option {
	return func(d *Decoder) {
		if prefix != "" {
			d.prefix = []byte(prefix)
		}
	}
}

// WithReadSize sets how many bytes are requested from the source per read.
func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// WithMalformedHandler registers fn to observe dropped frames.
func WithMalformedHandler(fn func(line string, err error)) Option {
	return func(d *Decoder) {
		d.onMalformed = fn
	}
}

// Decoder is a single-pass, non-restartable event reader.
type Decoder struct {
	src         io.Reader
	prefix      []byte
	readSize    int
	chunk       []byte
	buf         []byte
	off         int
	err         error
	tailDone    bool
	dropped     int
	onMalformed func(line string, err error)
}

// NewDecoder wraps src.
func NewDecoder(src io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		src:      src,
		prefix:   []byte(DefaultPrefix),
		readSize: defaultReadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dropped returns how many frames were discarded as malformed so far.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Next returns the next event. It returns io.EOF once the source is
// exhausted, or the source's error if reading failed.
func (d *Decoder) Next() (Event, error) {
	for {
		line, ok := d.nextLine()
		if ok {
			if ev, isEvent := d.decodeLine(line); isEvent {
				return ev, nil
			}
			continue
		}
		if d.err != nil {
			return Event{}, d.err
		}
		d.fill()
	}
}

// All exposes the decoder as a range-able sequence. A non-EOF source error is
// yielded once as the final element.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Event{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (d *Decoder) nextLine() ([]byte, bool) {
	pending := d.buf[d.off:]
	if i := bytes.IndexByte(pending, '\n'); i >= 0 {
		d.off += i + 1
		return bytes.TrimSuffix(pending[:i], []byte{'\r'}), true
	}
	// Once the source is done the unterminated tail is the last line.
	if d.err != nil && !d.tailDone {
		d.tailDone = true
		d.off = len(d.buf)
		if len(pending) > 0 {
			return bytes.TrimSuffix(pending, []byte{'\r'}), true
		}
	}
	return nil, false
}

func (d *Decoder) fill() {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	if d.chunk == nil {
		d.chunk = make([]byte, d.readSize)
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := d.src.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
		}
		if err != nil {
			d.err = err
			return
		}
		if n > 0 {
			return
		}
	}
	d.err = io.ErrNoProgress
}

func (d *Decoder) decodeLine(line []byte) (Event, bool) {
	if !bytes.HasPrefix(line, d.prefix) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(line[len(d.prefix):])
	ev, err := ParseFrame(payload)
	if err != nil {
		d.dropped++
		if d.onMalformed != nil {
			d.onMalformed(string(line), err)
		}
		return Event{}, false
	}
	return ev, true
}
