package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// maxLineSize bounds a single inbound NDJSON record.
const maxLineSize = 1 << 20

// Encoder writes events as newline-delimited JSON, one record per line.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one event followed by a newline.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decoder reads newline-delimited JSON messages.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next message. Blank lines are skipped. A malformed line
// yields a protocol error; the caller may keep reading after it. io.EOF marks
// the end of input.
func (d *Decoder) Next() (Message, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return DecodeMessage(line)
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Line returns the 1-based number of the last line read.
func (d *Decoder) Line() int {
	return d.line
}

// DecodeEvent parses one outbound record, as written by Encoder.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
