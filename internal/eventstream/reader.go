package eventstream

import (
	"bufio"
	"bytes"
	"io"
)

// frame is one unit read from the stream: either the data of an event or a comment line.
type frame struct {
	data    []byte
	comment bool
}

// frameReader splits an SSE body into frames. Only data fields and comments
// are interpreted; event, id and retry fields are ignored.
type frameReader struct {
	scanner *bufio.Scanner
	data    bytes.Buffer
	has     bool
}

// newFrameReader reads lines of at most maxLine bytes. A longer line fails
// next with bufio.ErrTooLong.
func newFrameReader(r io.Reader, maxLine int) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
	return &frameReader{scanner: scanner}
}

// next returns the next frame. A comment is returned as soon as its line is
// read; data is returned at the blank line that ends the event. Data not
// terminated by a blank line before EOF is discarded.
func (fr *frameReader) next() (frame, error) {
	for {
		if !fr.scanner.Scan() {
			if err := fr.scanner.Err(); err != nil {
				return frame{}, err
			}
			return frame{}, io.EOF
		}
		line := fr.scanner.Bytes()

		switch {
		case len(line) == 0:
			if !fr.has {
				continue
			}
			out := frame{data: bytes.Clone(fr.data.Bytes())}
			fr.data.Reset()
			fr.has = false
			return out, nil
		case line[0] == ':':
			return frame{comment: true, data: bytes.Clone(bytes.TrimSpace(line[1:]))}, nil
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		if !bytes.Equal(field, []byte("data")) {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if fr.has {
			fr.data.WriteByte('\n')
		}
		fr.data.Write(value)
		fr.has = true
	}
}
