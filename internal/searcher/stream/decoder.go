package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const maxFrameBytes = 16 << 20

// Decoder reads events written by an Emitter.
type Decoder struct {
	scanner *bufio.Scanner
	format  Format
}

// NewDecoder reads events in the given framing from r.
func NewDecoder(r io.Reader, format Format) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), maxFrameBytes)
	return &Decoder{scanner: s, format: format}
}

// Next returns the next event, or io.EOF once the stream has ended.
func (d *Decoder) Next() (Event, error) {
	var payload []byte
	var err error
	if d.format == FormatSSE {
		payload, err = d.nextSSE()
	} else {
		payload, err = d.nextLine()
	}
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}

func (d *Decoder) nextLine() ([]byte, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) > 0 {
			return line, nil
		}
	}
	return nil, d.eof()
}

// nextSSE collects the data lines of one SSE frame. Comment and event lines
// are skipped; the event type is carried in the payload.
func (d *Decoder) nextSSE() ([]byte, error) {
	var data [][]byte
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			continue
		}
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			data = append(data, bytes.Clone(bytes.TrimPrefix(rest, []byte(" "))))
		}
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), nil
	}
	return nil, d.eof()
}

func (d *Decoder) eof() error {
	if err := d.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
