package upstream

import (
	"bufio"
	"bytes"
	"io"
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	name string
	data []byte
}

// sseReader decodes a text/event-stream body. Comments, id and retry fields
// are skipped; data lines of one event are joined with newlines.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the next event with at least one data line. It returns
// io.EOF when the stream ends, including mid-event.
func (s *sseReader) next() (sseEvent, error) {
	var ev sseEvent
	var data bytes.Buffer
	hasData := false

	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			return sseEvent{}, err
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if hasData {
				ev.data = data.Bytes()
				return ev, nil
			}
			ev = sseEvent{}
			continue
		}

		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			ev.name = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		}

		if err != nil {
			return sseEvent{}, err
		}
	}
}
